package cipher

import (
	"strconv"
	"strings"
)

// Kind identifies one of the primitive transformations a signature routine is
// built from.
type Kind int

const (
	// Slice drops the first Arg characters.
	Slice Kind = iota + 1
	// Reverse reverses the whole value.
	Reverse
	// Swap exchanges the first character with the one at Arg.
	Swap
)

const (
	tokenSlice   = 's'
	tokenReverse = 'r'
	tokenSwap    = 'w'
)

func (k Kind) String() string {
	switch k {
	case Slice:
		return "slice"
	case Reverse:
		return "reverse"
	case Swap:
		return "swap"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Operation is a single step of a Program. Reverse ignores Arg.
type Operation struct {
	Kind Kind
	Arg  int
}

// Token returns the store encoding of the operation: s<n>, r or w<n>.
func (op Operation) Token() string {
	switch op.Kind {
	case Slice:
		return string(rune(tokenSlice)) + strconv.Itoa(op.Arg)
	case Reverse:
		return string(rune(tokenReverse))
	case Swap:
		return string(rune(tokenSwap)) + strconv.Itoa(op.Arg)
	default:
		return "?"
	}
}

func (op Operation) String() string { return op.Token() }

// Program is the compiled form of one release's signature routine. Operations
// run in order.
type Program []Operation

// Encode returns the space separated token form, e.g. "s3 r w49".
func (p Program) Encode() string {
	tokens := make([]string, len(p))
	for i, op := range p {
		tokens[i] = op.Token()
	}
	return strings.Join(tokens, " ")
}

func (p Program) String() string { return p.Encode() }

// Equal reports structural equality. Reverse arguments are not compared.
func (p Program) Equal(q Program) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i].Kind != q[i].Kind {
			return false
		}
		if p[i].Kind != Reverse && p[i].Arg != q[i].Arg {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no memory with p.
func (p Program) Clone() Program {
	if p == nil {
		return nil
	}
	out := make(Program, len(p))
	copy(out, p)
	return out
}

// ParseProgram decodes the form produced by Encode. A reverse token may carry a
// numeric suffix, which is ignored.
func ParseProgram(encoded string) (Program, error) {
	fields := strings.Fields(encoded)
	if len(fields) == 0 {
		return nil, NewError(ErrCodeInvalidProgram, "empty program")
	}
	p := make(Program, 0, len(fields))
	for _, tok := range fields {
		op, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		p = append(p, op)
	}
	return p, nil
}

func parseToken(tok string) (Operation, error) {
	var kind Kind
	switch tok[0] {
	case tokenSlice:
		kind = Slice
	case tokenReverse:
		kind = Reverse
	case tokenSwap:
		kind = Swap
	default:
		return Operation{}, NewError(ErrCodeInvalidProgram, "unknown operation token", map[string]any{"token": tok})
	}

	rest := tok[1:]
	if kind == Reverse {
		if rest != "" && !isDigits(rest) {
			return Operation{}, NewError(ErrCodeInvalidProgram, "malformed reverse token", map[string]any{"token": tok})
		}
		return Operation{Kind: Reverse}, nil
	}
	if !isDigits(rest) {
		return Operation{}, NewError(ErrCodeInvalidProgram, "operation needs a non-negative argument", map[string]any{"token": tok})
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return Operation{}, NewError(ErrCodeInvalidProgram, "argument out of range", map[string]any{"token": tok}).Wrap(err)
	}
	return Operation{Kind: kind, Arg: n}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
