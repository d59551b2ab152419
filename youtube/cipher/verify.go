package cipher

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const (
	probeFirstRune = 0x4E00
	probeLastRune  = 0xD7FF // below the surrogate range, one UTF-16 unit each
	probeMinLength = 256
	verifyTimeout  = 2 * time.Second
	verifyFuncName = "__ytcipher_routine"
)

var errVerifyTimeout = errors.New("routine did not finish in time")

// Verify runs the script's own signature routine, isolated together with its
// helper object, on a probe value and checks that Apply(p) produces the same
// result. The rest of the script is never executed.
func Verify(script string, p Program) error {
	rt, err := locateRoutine(script)
	if err != nil {
		return err
	}
	probe, err := probeFor(p)
	if err != nil {
		return err
	}
	want, err := Apply(probe, p)
	if err != nil {
		return err
	}
	got, err := rt.run(probe)
	if err != nil {
		return patternNotFound("verify", "extracted routine failed to run").Wrap(err)
	}
	if got != want {
		return patternNotFound("verify", "program disagrees with the script routine", map[string]any{
			"program": p.Encode(),
		})
	}
	return nil
}

// probeFor builds a value of distinct characters long enough that no
// operation of p runs out of input.
func probeFor(p Program) (string, error) {
	n := probeMinLength
	for _, op := range p {
		n += op.Arg
	}
	if n > probeLastRune-probeFirstRune+1 {
		return "", NewError(ErrCodeInvalidProgram, "program arguments too large to verify", map[string]any{"length": n})
	}
	r := make([]rune, n)
	for i := range r {
		r[i] = rune(probeFirstRune + i)
	}
	return string(r), nil
}

func (rt *routine) run(input string) (string, error) {
	src := fmt.Sprintf("var %s=%s;var %s=function(%s){%s};", rt.container, rt.helperSrc, verifyFuncName, rt.param, rt.body)

	vm := goja.New()
	timer := time.AfterFunc(verifyTimeout, func() { vm.Interrupt(errVerifyTimeout) })
	defer timer.Stop()

	if _, err := vm.RunString(src); err != nil {
		return "", err
	}
	fn, ok := goja.AssertFunction(vm.Get(verifyFuncName))
	if !ok {
		return "", errors.New("routine is not callable")
	}
	res, err := fn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return "", errors.New("routine returned undefined/null")
	}
	return res.String(), nil
}
