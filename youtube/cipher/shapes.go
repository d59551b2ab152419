package cipher

import (
	"errors"
	"regexp"
	"strings"
)

// shape recognises one primitive from a helper method's own definition.
// Method names are renamed on every release, only bodies are stable.
type shape struct {
	kind  Kind
	match func(m method) bool
}

var shapes = []shape{
	{kind: Slice, match: isSliceShape},
	{kind: Reverse, match: isReverseShape},
	{kind: Swap, match: isSwapShape},
}

var (
	removalCallRe = regexp.MustCompile(`\.(?:splice|slice)\(`)
	reverseCallRe = regexp.MustCompile(`\.reverse\(\s*\)`)
	lengthReadRe  = regexp.MustCompile(`\.length\b`)
	indexWriteRe  = regexp.MustCompile(identPattern + `\[[^\]]+\]\s*=[^=]`)
)

// isSliceShape: function(a,b){a.splice(0,b)}
func isSliceShape(m method) bool {
	return removalCallRe.MatchString(m.body)
}

// isReverseShape: function(a){a.reverse()}
func isReverseShape(m method) bool {
	return len(m.params) == 1 && reverseCallRe.MatchString(m.body)
}

// isSwapShape: function(a,b){var c=a[0];a[0]=a[b%a.length];a[b%a.length]=c}
func isSwapShape(m method) bool {
	return lengthReadRe.MatchString(m.body) && len(indexWriteRe.FindAllString(m.body, -1)) >= 2
}

// classify requires exactly one shape to match. Two matches mean the site
// introduced something the recogniser cannot tell apart, so it fails.
func classify(m method) (Kind, error) {
	var matched []Kind
	for _, s := range shapes {
		if s.match(m) {
			matched = append(matched, s.kind)
		}
	}
	switch len(matched) {
	case 1:
		return matched[0], nil
	case 0:
		return 0, patternNotFound("classify", "helper method matches no known shape", map[string]any{
			"method": m.name,
			"body":   m.body,
		})
	default:
		names := make([]string, len(matched))
		for i, k := range matched {
			names[i] = k.String()
		}
		return 0, patternNotFound("classify", "helper method matches more than one shape", map[string]any{
			"method": m.name,
			"shapes": strings.Join(names, ","),
		})
	}
}

var (
	errUnexpectedEnd = errors.New("unexpected end of object literal")
	errMalformedKey  = errors.New("malformed member key")
)

// parseMethods scans the inside of an object literal for function-valued
// members, in either key:function(..){..} or key(..){..} form. Other members
// are skipped.
func parseMethods(src string) (map[string]method, error) {
	methods := make(map[string]method)
	s := &scanner{src: src}
	for {
		s.skipSpaceAndCommas()
		if s.done() {
			return methods, nil
		}
		name, err := s.key()
		if err != nil {
			return nil, err
		}
		s.skipSpace()
		switch {
		case s.consume(":"):
			s.skipSpace()
			if !s.consumeWord("function") {
				if err := s.skipValue(); err != nil {
					return nil, err
				}
				continue
			}
			s.skipSpace()
		case s.peek() == '(':
		default:
			return nil, errMalformedKey
		}
		m, err := s.function(name)
		if err != nil {
			return nil, err
		}
		methods[name] = m
	}
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) skipSpace() {
	for !s.done() && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

func (s *scanner) skipSpaceAndCommas() {
	for !s.done() && (isSpace(s.src[s.pos]) || s.src[s.pos] == ',') {
		s.pos++
	}
}

func (s *scanner) consume(tok string) bool {
	if strings.HasPrefix(s.src[s.pos:], tok) {
		s.pos += len(tok)
		return true
	}
	return false
}

func (s *scanner) consumeWord(word string) bool {
	rest := s.src[s.pos:]
	if !strings.HasPrefix(rest, word) {
		return false
	}
	if len(rest) > len(word) && isIdentByte(rest[len(word)]) {
		return false
	}
	s.pos += len(word)
	return true
}

func (s *scanner) key() (string, error) {
	if s.done() {
		return "", errUnexpectedEnd
	}
	if ch := s.peek(); ch == '"' || ch == '\'' {
		end, ok := skipString(s.src, s.pos)
		if !ok {
			return "", errUnexpectedEnd
		}
		k := s.src[s.pos+1 : end]
		s.pos = end + 1
		return k, nil
	}
	start := s.pos
	for !s.done() && isIdentByte(s.src[s.pos]) {
		s.pos++
	}
	if start == s.pos {
		return "", errMalformedKey
	}
	return s.src[start:s.pos], nil
}

// function reads "(params){body}" at the current position.
func (s *scanner) function(name string) (method, error) {
	if !s.consume("(") {
		return method{}, errMalformedKey
	}
	closeParen := strings.IndexByte(s.src[s.pos:], ')')
	if closeParen < 0 {
		return method{}, errUnexpectedEnd
	}
	var params []string
	for _, p := range strings.Split(s.src[s.pos:s.pos+closeParen], ",") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	s.pos += closeParen + 1
	s.skipSpace()
	if s.peek() != '{' {
		return method{}, errMalformedKey
	}
	end, ok := matchBrace(s.src, s.pos)
	if !ok {
		return method{}, errUnexpectedEnd
	}
	m := method{name: name, params: params, body: s.src[s.pos+1 : end]}
	s.pos = end + 1
	return m, nil
}

// skipValue advances past a non-function member value up to the next
// top-level comma.
func (s *scanner) skipValue() error {
	depth := 0
	for ; !s.done(); s.pos++ {
		switch ch := s.src[s.pos]; ch {
		case '"', '\'', '`':
			end, ok := skipString(s.src, s.pos)
			if !ok {
				return errUnexpectedEnd
			}
			s.pos = end
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				return nil
			}
		}
	}
	return nil
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentByte(ch byte) bool {
	return ch == '$' || ch == '_' || ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}
