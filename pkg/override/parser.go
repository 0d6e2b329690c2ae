package override

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stratum/pkg/composeerr"
	"stratum/pkg/value"
)

// Parse parses a single override string, e.g. "+db.port=5432" or
// "model=choice(resnet,vgg)". Failures are reported as a
// composeerr.OverrideParseError carrying the input line.
func Parse(s string) (*Override, error) {
	ov, err := parse(s)
	if err != nil {
		return nil, &composeerr.OverrideParseError{Override: s, Message: err.Error(), Err: err}
	}
	return ov, nil
}

func parse(s string) (*Override, error) {
	typ, rest := splitPrefix(s)

	eqIdx := findTopLevelEquals(rest)
	var keyPart, valuePart string
	hasValue := eqIdx >= 0
	if hasValue {
		keyPart, valuePart = rest[:eqIdx], rest[eqIdx+1:]
	} else {
		keyPart = rest
	}

	keyToks, err := lex(keyPart)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(newTokenStream(keyToks))
	if err != nil {
		return nil, err
	}

	ov := &Override{Type: typ, Key: key, Input: s}

	if typ == Del && !hasValue {
		return ov, nil
	}
	if !hasValue {
		return nil, fmt.Errorf("missing value")
	}

	valToks, err := lex(valuePart)
	if err != nil {
		return nil, err
	}
	ts := newTokenStream(valToks)
	if err := parseTopLevelValue(ts, ov); err != nil {
		return nil, err
	}
	if !ts.atEOF() {
		return nil, fmt.Errorf("unexpected trailing input %q", ts.peek().text)
	}

	if ov.Type == ExtendList && typ != Change {
		return nil, fmt.Errorf("trying to use override symbols when extending a list")
	}
	return ov, nil
}

// ParseAll parses a batch of override strings; a failure carries the
// 1-based position of the offending string within the batch.
func ParseAll(overrides []string) ([]*Override, error) {
	out := make([]*Override, 0, len(overrides))
	for idx, s := range overrides {
		ov, err := Parse(s)
		if err != nil {
			var pe *composeerr.OverrideParseError
			if errors.As(err, &pe) {
				pe.Index = idx + 1
			}
			return nil, err
		}
		out = append(out, ov)
	}
	return out, nil
}

func splitPrefix(s string) (Type, string) {
	if strings.HasPrefix(s, "++") {
		return ForceAdd, s[2:]
	}
	if strings.HasPrefix(s, "+") {
		return Add, s[1:]
	}
	if strings.HasPrefix(s, "~") {
		return Del, s[1:]
	}
	return Change, s
}

// findTopLevelEquals locates the first "=" that is not inside brackets or a
// quoted string (so e.g. "range(0,1)" without a top-level "=" is rejected,
// and a dict-valued RHS's internal ":" is untouched).
func findTopLevelEquals(s string) int {
	depth := 0
	var quote rune
	for i, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '=' && depth == 0:
			return i
		}
	}
	return -1
}

func parseKey(ts *tokenStream) (Key, error) {
	t := ts.next()
	if t.kind != tokWord {
		return Key{}, fmt.Errorf("expected a key, got %q", t.text)
	}
	key := Key{KeyOrGroup: t.text}
	if ts.peek().kind == tokPunct && ts.peek().text == "@" {
		ts.next()
		pkgTok := ts.next()
		if pkgTok.kind != tokWord {
			return Key{}, fmt.Errorf("expected a package name after @, got %q", pkgTok.text)
		}
		key.Package = pkgTok.text
	}
	if !ts.atEOF() {
		return Key{}, fmt.Errorf("unexpected trailing input in key: %q", ts.peek().text)
	}
	return key, nil
}

// parseTopLevelValue parses the right-hand side of an override and fills
// ov's ValueKind/Value/Choice/Range/Interval/GlobVal/ListMutation fields.
func parseTopLevelValue(ts *tokenStream, ov *Override) error {
	if t := ts.peek(); t.kind == tokWord {
		if name, ok := peekFunctionCall(ts); ok {
			return parseFunctionCall(ts, name, ov)
		}
	}

	first, err := parseElement(ts)
	if err != nil {
		return err
	}

	if g, ok := globDictForm(first); ok {
		ov.ValueKind = GlobChoiceSweepKind
		ov.GlobVal = g
		return nil
	}

	if ts.peek().kind == tokPunct && ts.peek().text == "," {
		list := []*value.Value{first}
		for ts.peek().kind == tokPunct && ts.peek().text == "," {
			ts.next()
			v, err := parseElement(ts)
			if err != nil {
				return err
			}
			list = append(list, v)
		}
		ov.ValueKind = SimpleChoiceSweepKind
		ov.Choice = &ChoiceSweep{List: list, SimpleForm: true}
		return nil
	}

	ov.ValueKind = Element
	ov.Value = first
	return nil
}

// peekFunctionCall reports whether the stream is positioned at "word(" and
// leaves the stream unconsumed if not (consumes the word token if so).
func peekFunctionCall(ts *tokenStream) (string, bool) {
	save := ts.pos
	t := ts.next()
	if t.kind == tokWord && ts.peek().kind == tokPunct && ts.peek().text == "(" {
		return t.text, true
	}
	ts.pos = save
	return "", false
}

func parseElement(ts *tokenStream) (*value.Value, error) {
	t := ts.peek()
	switch {
	case t.kind == tokString:
		ts.next()
		q := value.DoubleQuote
		if t.quote == '\'' {
			q = value.SingleQuote
		}
		return value.QuotedString(t.text, q), nil
	case t.kind == tokPunct && t.text == "[":
		return parseListLiteral(ts)
	case t.kind == tokPunct && t.text == "{":
		return parseDictLiteral(ts)
	case t.kind == tokWord:
		ts.next()
		return wordToValue(t.text), nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

func parseListLiteral(ts *tokenStream) (*value.Value, error) {
	if err := ts.expectPunct("["); err != nil {
		return nil, err
	}
	var items []*value.Value
	for {
		if ts.peek().kind == tokPunct && ts.peek().text == "]" {
			ts.next()
			break
		}
		v, err := parseElement(ts)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if ts.peek().kind == tokPunct && ts.peek().text == "," {
			ts.next()
			continue
		}
		if err := ts.expectPunct("]"); err != nil {
			return nil, err
		}
		break
	}
	return value.NewSeq(items...), nil
}

func parseDictLiteral(ts *tokenStream) (*value.Value, error) {
	if err := ts.expectPunct("{"); err != nil {
		return nil, err
	}
	m := value.NewMap()
	for {
		if ts.peek().kind == tokPunct && ts.peek().text == "}" {
			ts.next()
			break
		}
		keyTok := ts.next()
		if keyTok.kind != tokWord && keyTok.kind != tokString {
			return nil, fmt.Errorf("expected a dict key, got %q", keyTok.text)
		}
		if err := ts.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := parseElement(ts)
		if err != nil {
			return nil, err
		}
		m.Map.Set(keyTok.text, v)
		if ts.peek().kind == tokPunct && ts.peek().text == "," {
			ts.next()
			continue
		}
		if err := ts.expectPunct("}"); err != nil {
			return nil, err
		}
		break
	}
	return m, nil
}

// globDictForm recognizes the "{_type: glob, include: [...], exclude:
// [...]}" dict spelling of a glob sweep, an alternate to "glob(...)".
func globDictForm(v *value.Value) (*Glob, bool) {
	if v.Kind != value.KindMap {
		return nil, false
	}
	typ, ok := v.Map.Get("_type")
	if !ok {
		return nil, false
	}
	s, err := typ.AsString()
	if err != nil || !strings.EqualFold(s, "glob") {
		return nil, false
	}
	g := &Glob{}
	if inc, ok := v.Map.Get("include"); ok {
		g.Include = dictStringList(inc)
	}
	if exc, ok := v.Map.Get("exclude"); ok {
		g.Exclude = dictStringList(exc)
	}
	return g, true
}

func dictStringList(v *value.Value) []string {
	if v.Kind != value.KindSeq {
		return nil
	}
	out := make([]string, 0, len(v.Seq))
	for _, item := range v.Seq {
		if s, err := item.AsString(); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func wordToValue(w string) *value.Value {
	switch strings.ToLower(w) {
	case "null", "none", "~":
		return value.Null()
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	if i, err := strconv.ParseInt(w, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return value.Float(f)
	}
	return value.String(w)
}
