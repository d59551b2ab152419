package cipher

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	identPattern       = `[a-zA-Z0-9$_]+`
	identBoundary      = `(?:^|[^a-zA-Z0-9$_.])`
	entryPointTimeout  = 5 * time.Second
	minRoutineStmts    = 3 // split, at least one call, join
	entryNameGroup     = 2
	callContainerGroup = 1
	callMethodGroup    = 2
	callParamGroup     = 3
	callArgGroup       = 4
)

var (
	// "signature",XY( with either quote style. RE2 has no backreferences.
	entryPointRe = func() *regexp2.Regexp {
		re := regexp2.MustCompile(`(["'])signature\1\s*,\s*(`+identPattern+`)\(`, regexp2.None)
		re.MatchTimeout = entryPointTimeout
		return re
	}()

	splitStmtRe = regexp.MustCompile(`^(` + identPattern + `)\s*=\s*(` + identPattern + `)\.split\(\s*(?:""|'')\s*\)$`)
	joinStmtRe  = regexp.MustCompile(`^return\s+(` + identPattern + `)\.join\(\s*(?:""|'')\s*\)$`)
	callRe      = regexp.MustCompile(`^(` + identPattern + `)\.(` + identPattern + `)\(\s*(` + identPattern + `)\s*(?:,\s*(\d+)\s*)?\)$`)
)

// method is one member of the helper object literal.
type method struct {
	name   string
	params []string
	body   string
}

type call struct {
	stmt   string
	method string
	arg    int
	hasArg bool
}

// routine is the located signature function together with its helper object.
type routine struct {
	name      string
	param     string
	body      string
	calls     []call
	container string
	helperSrc string
	methods   map[string]method
}

// Decompile locates the signature routine in a player script and compiles it
// into a Program. Any deviation from the recognised shape fails with
// PATTERN_NOT_FOUND.
func Decompile(script string) (Program, error) {
	rt, err := locateRoutine(script)
	if err != nil {
		return nil, err
	}
	return rt.compile()
}

func patternNotFound(step, message string, details ...map[string]any) *Error {
	d := map[string]any{"step": step}
	for _, extra := range details {
		for k, v := range extra {
			d[k] = v
		}
	}
	return NewError(ErrCodePatternNotFound, message, d)
}

func locateRoutine(script string) (*routine, error) {
	m, err := entryPointRe.FindStringMatch(script)
	if err != nil {
		return nil, patternNotFound("entry point", "signature entry point search failed").Wrap(err)
	}
	if m == nil {
		return nil, patternNotFound("entry point", `no "signature",<name>( call site`)
	}
	rt := &routine{name: m.GroupByNumber(entryNameGroup).String()}

	param, body, ok := findFunction(script, rt.name)
	if !ok {
		return nil, patternNotFound("routine", "signature function definition not found", map[string]any{"name": rt.name})
	}
	rt.param, rt.body = param, body

	if err := rt.parseStatements(); err != nil {
		return nil, err
	}

	helper, ok := findObject(script, rt.container)
	if !ok {
		return nil, patternNotFound("helper object", "helper object literal not found", map[string]any{"container": rt.container})
	}
	rt.helperSrc = helper

	methods, err := parseMethods(helper[1 : len(helper)-1])
	if err != nil {
		return nil, patternNotFound("helper object", "helper object members not recognised", map[string]any{"container": rt.container}).Wrap(err)
	}
	rt.methods = methods
	return rt, nil
}

// parseStatements checks the split/calls/join shape and fills calls and container.
func (rt *routine) parseStatements() error {
	var stmts []string
	for _, s := range strings.Split(rt.body, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	if len(stmts) < minRoutineStmts {
		return patternNotFound("routine", "signature function has no transformation calls", map[string]any{"name": rt.name})
	}

	first, last := stmts[0], stmts[len(stmts)-1]
	if sm := splitStmtRe.FindStringSubmatch(first); sm == nil || sm[1] != rt.param || sm[2] != rt.param {
		return patternNotFound("routine", "first statement does not split the parameter", map[string]any{"statement": first})
	}
	if jm := joinStmtRe.FindStringSubmatch(last); jm == nil || jm[1] != rt.param {
		return patternNotFound("routine", "last statement does not join the parameter", map[string]any{"statement": last})
	}

	for _, stmt := range stmts[1 : len(stmts)-1] {
		cm := callRe.FindStringSubmatch(stmt)
		if cm == nil || cm[callParamGroup] != rt.param {
			return patternNotFound("calls", "statement is not a helper call", map[string]any{"statement": stmt})
		}
		if rt.container == "" {
			rt.container = cm[callContainerGroup]
		} else if cm[callContainerGroup] != rt.container {
			return patternNotFound("calls", "calls span more than one helper object", map[string]any{
				"statement": stmt,
				"container": rt.container,
			})
		}
		c := call{stmt: stmt, method: cm[callMethodGroup]}
		if raw := cm[callArgGroup]; raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return patternNotFound("calls", "numeric argument out of range", map[string]any{"statement": stmt}).Wrap(err)
			}
			c.arg, c.hasArg = n, true
		}
		rt.calls = append(rt.calls, c)
	}
	return nil
}

func (rt *routine) compile() (Program, error) {
	kinds := make(map[string]Kind, len(rt.methods))
	p := make(Program, 0, len(rt.calls))
	for _, c := range rt.calls {
		kind, seen := kinds[c.method]
		if !seen {
			m, ok := rt.methods[c.method]
			if !ok {
				return nil, patternNotFound("classify", "called method missing from helper object", map[string]any{"method": c.method})
			}
			var err error
			if kind, err = classify(m); err != nil {
				return nil, err
			}
			kinds[c.method] = kind
		}

		switch kind {
		case Reverse:
			p = append(p, Operation{Kind: Reverse})
		default:
			if !c.hasArg {
				return nil, patternNotFound("classify", "call needs a numeric argument", map[string]any{
					"statement": c.stmt,
					"kind":      kind.String(),
				})
			}
			p = append(p, Operation{Kind: kind, Arg: c.arg})
		}
	}
	return p, nil
}

// findFunction returns the parameter and body of name=function(p){...} or
// function name(p){...}.
func findFunction(script, name string) (string, string, bool) {
	q := regexp.QuoteMeta(name)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(identBoundary + q + `\s*=\s*function\s*\(\s*(` + identPattern + `)\s*\)\s*\{`),
		regexp.MustCompile(`function\s+` + q + `\s*\(\s*(` + identPattern + `)\s*\)\s*\{`),
	}
	for _, re := range patterns {
		loc := re.FindStringSubmatchIndex(script)
		if loc == nil {
			continue
		}
		open := loc[1] - 1
		end, ok := matchBrace(script, open)
		if !ok {
			continue
		}
		return script[loc[2]:loc[3]], script[open+1 : end], true
	}
	return "", "", false
}

// findObject returns the source of the object literal bound to name, braces
// included.
func findObject(script, name string) (string, bool) {
	q := regexp.QuoteMeta(name)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?:var|let|const)\s+` + q + `\s*=\s*\{`),
		regexp.MustCompile(identBoundary + q + `\s*=\s*\{`),
	}
	for _, re := range patterns {
		loc := re.FindStringIndex(script)
		if loc == nil {
			continue
		}
		open := loc[1] - 1
		if end, ok := matchBrace(script, open); ok {
			return script[open : end+1], true
		}
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at open. String
// literals are skipped.
func matchBrace(src string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(src); i++ {
		switch ch := src[i]; ch {
		case '"', '\'', '`':
			end, ok := skipString(src, i)
			if !ok {
				return 0, false
			}
			i = end
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// skipString returns the index of the quote closing the literal starting at i.
func skipString(src string, i int) (int, bool) {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j, true
		}
	}
	return 0, false
}
