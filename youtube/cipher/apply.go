package cipher

// Apply runs p against signature and returns the deciphered value. It works on
// runes, and every Swap index is checked against the length at the moment the
// operation runs.
func Apply(signature string, p Program) (string, error) {
	r := []rune(signature)
	for i, op := range p {
		switch op.Kind {
		case Slice:
			r = sliceRunes(r, op.Arg)
		case Reverse:
			reverseRunes(r)
		case Swap:
			if op.Arg < 0 || op.Arg >= len(r) {
				return "", NewError(ErrCodeIndexOutOfRange, "swap index outside working value", map[string]any{
					"step":   i,
					"index":  op.Arg,
					"length": len(r),
				})
			}
			r[0], r[op.Arg] = r[op.Arg], r[0]
		default:
			return "", NewError(ErrCodeInvalidProgram, "unknown operation", map[string]any{"step": i, "kind": int(op.Kind)})
		}
	}
	return string(r), nil
}

func sliceRunes(r []rune, n int) []rune {
	if n <= 0 {
		return r
	}
	if n >= len(r) {
		return r[:0]
	}
	return r[n:]
}

func reverseRunes(r []rune) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}
