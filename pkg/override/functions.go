package override

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"stratum/pkg/value"
)

// Function is a caller-registered override function: it receives the call's
// positional arguments and produces the element value the override carries.
type Function func(args []*value.Value) (*value.Value, error)

var (
	userFuncsMu sync.RWMutex
	userFuncs   = map[string]Function{}
)

// RegisterFunction installs fn under name for use in override strings
// ("key=name(args)"). Registering a built-in name replaces the built-in.
func RegisterFunction(name string, fn Function) {
	userFuncsMu.Lock()
	defer userFuncsMu.Unlock()
	userFuncs[name] = fn
}

func lookupFunction(name string) (Function, bool) {
	userFuncsMu.RLock()
	defer userFuncsMu.RUnlock()
	fn, ok := userFuncs[name]
	return fn, ok
}

// arg is one parsed function-call argument: either positional (Name == "")
// or a keyword argument.
type arg struct {
	Name  string
	Value *value.Value
}

// parseFunctionCall parses "name(args...)" where name has already been
// consumed from ts by peekFunctionCall, and dispatches to the matching
// registered or built-in function, filling ov accordingly.
func parseFunctionCall(ts *tokenStream, name string, ov *Override) error {
	args, err := parseArgList(ts)
	if err != nil {
		return fmt.Errorf("error while evaluating %q: %w", name, err)
	}
	if fn, ok := lookupFunction(name); ok {
		out, err := fn(positional(args))
		if err != nil {
			return fmt.Errorf("error while evaluating %q: %w", name, err)
		}
		ov.ValueKind = Element
		ov.Value = out
		return nil
	}
	switch name {
	case "int", "str", "bool", "float", "json_str":
		return applyCast(name, args, ov)
	case "choice":
		return applyChoice(args, ov)
	case "range":
		return applyRange(args, ov)
	case "interval":
		return applyInterval(args, ov)
	case "glob":
		return applyGlob(args, ov)
	case "tag":
		return applyTag(ts, args, ov)
	case "sort":
		return applySort(args, ov)
	case "shuffle":
		return applyShuffle(ts, args, ov)
	case "extend_list":
		return applyExtendList(args, OpAppend, ov)
	case "append":
		return applyExtendList(args, OpAppend, ov)
	case "prepend":
		return applyExtendList(args, OpPrepend, ov)
	case "insert":
		return applyInsert(args, ov)
	case "remove_at":
		return applyRemoveAt(args, ov)
	case "remove_value":
		return applyExtendList(args, OpRemoveValue, ov)
	case "list_clear":
		return applyExtendList(nil, OpClear, ov)
	default:
		return fmt.Errorf("unknown function %q", name)
	}
}

func parseArgList(ts *tokenStream) ([]arg, error) {
	if err := ts.expectPunct("("); err != nil {
		return nil, err
	}
	var args []arg
	for {
		if ts.peek().kind == tokPunct && ts.peek().text == ")" {
			ts.next()
			break
		}
		kwName := ""
		save := ts.pos
		if ts.peek().kind == tokWord {
			word := ts.next()
			if ts.peek().kind == tokPunct && ts.peek().text == "=" {
				ts.next()
				kwName = word.text
			} else {
				ts.pos = save
			}
		}
		var v *value.Value
		if name, ok := peekFunctionCall(ts); ok {
			inner := &Override{}
			if err := parseFunctionCall(ts, name, inner); err != nil {
				return nil, err
			}
			v = sweepResultAsValue(inner)
		} else {
			var err error
			v, err = parseElement(ts)
			if err != nil {
				return nil, err
			}
		}
		args = append(args, arg{Name: kwName, Value: v})
		if ts.peek().kind == tokPunct && ts.peek().text == "," {
			ts.next()
			continue
		}
		if err := ts.expectPunct(")"); err != nil {
			return nil, err
		}
		break
	}
	return args, nil
}

// sweepResultAsValue packages a nested function-call Override's result into
// a single opaque Value so it can be threaded through parseArgList as one
// argument (used by tag()/sort()/shuffle() wrapping a choice/range/interval
// call). The sweep payload itself is recovered with unwrapSweepArg.
func sweepResultAsValue(ov *Override) *value.Value {
	wrapped := value.NewMap()
	wrapped.Map.Set("__sweep__", value.Bool(true))
	pendingSweepsMu.Lock()
	pendingSweeps[wrapped] = ov
	pendingSweepsMu.Unlock()
	return wrapped
}

// pendingSweeps is a process-local side table bridging parseArgList's
// Value-typed return channel back to the Override it actually produced.
// Entries live only between sweepResultAsValue and unwrapSweepArg within one
// Parse call; the mutex keeps concurrent compositions from racing on it.
var (
	pendingSweepsMu sync.Mutex
	pendingSweeps   = map[*value.Value]*Override{}
)

func unwrapSweepArg(v *value.Value) (*Override, bool) {
	pendingSweepsMu.Lock()
	defer pendingSweepsMu.Unlock()
	ov, ok := pendingSweeps[v]
	if ok {
		delete(pendingSweeps, v)
	}
	return ov, ok
}

func positional(args []arg) []*value.Value {
	var out []*value.Value
	for _, a := range args {
		if a.Name == "" {
			out = append(out, a.Value)
		}
	}
	return out
}

func kwarg(args []arg, name string) (*value.Value, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

func stringList(v *value.Value) []string {
	if v == nil || v.Kind != value.KindSeq {
		return nil
	}
	out := make([]string, 0, len(v.Seq))
	for _, item := range v.Seq {
		s, _ := item.AsString()
		out = append(out, s)
	}
	return out
}

func boolOf(v *value.Value) bool {
	return v != nil && v.Kind == value.KindBool && v.Bool
}

func applyCast(name string, args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) != 1 {
		return fmt.Errorf("%s() takes exactly one argument", name)
	}
	s, err := pos[0].AsString()
	if err != nil {
		return fmt.Errorf("TypeError while evaluating %s(): %v", name, err)
	}
	var out *value.Value
	switch name {
	case "int":
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("ValueError while evaluating int(%q): %v", s, err)
		}
		out = value.Int(i)
	case "str":
		out = value.String(s)
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("ValueError while evaluating bool(%q): %v", s, err)
		}
		out = value.Bool(b)
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("ValueError while evaluating float(%q): %v", s, err)
		}
		out = value.Float(f)
	case "json_str":
		v, err := jsonStringToValue(s)
		if err != nil {
			return fmt.Errorf("ValueError while evaluating json_str(%q): %v", s, err)
		}
		out = v
	}
	ov.ValueKind = Element
	ov.Value = out
	return nil
}

func jsonStringToValue(s string) (*value.Value, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return jsonToValue(raw), nil
}

func jsonToValue(raw interface{}) *value.Value {
	switch v := raw.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(v)
	case float64:
		if v == float64(int64(v)) {
			return value.Int(int64(v))
		}
		return value.Float(v)
	case string:
		return value.String(v)
	case []interface{}:
		items := make([]*value.Value, len(v))
		for i, item := range v {
			items[i] = jsonToValue(item)
		}
		return value.NewSeq(items...)
	case map[string]interface{}:
		m := value.NewMap()
		for k, item := range v {
			m.Map.Set(k, jsonToValue(item))
		}
		return m
	default:
		return value.Null()
	}
}

func applyChoice(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) == 0 {
		return fmt.Errorf("choice() requires at least one argument")
	}
	tags, _ := kwarg(args, "tags")
	ov.ValueKind = ChoiceSweepKind
	ov.Choice = &ChoiceSweep{
		List:    pos,
		Tags:    stringList(tags),
		Shuffle: boolOf(mustKwarg(args, "shuffle")),
	}
	return nil
}

func mustKwarg(args []arg, name string) *value.Value {
	v, _ := kwarg(args, name)
	return v
}

func applyRange(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) < 2 {
		return fmt.Errorf("range() requires at least start and stop")
	}
	start, isIntStart, err := numericArg(pos[0])
	if err != nil {
		return err
	}
	stop, isIntStop, err := numericArg(pos[1])
	if err != nil {
		return err
	}
	step, isIntStep := 1.0, true
	if len(pos) >= 3 {
		step, isIntStep, err = numericArg(pos[2])
		if err != nil {
			return err
		}
	}
	tags, _ := kwarg(args, "tags")
	ov.ValueKind = RangeSweepKind
	ov.Range = &RangeSweep{
		Start:   start,
		Stop:    stop,
		Step:    step,
		IsInt:   isIntStart && isIntStop && isIntStep,
		Tags:    stringList(tags),
		Shuffle: boolOf(mustKwarg(args, "shuffle")),
	}
	return nil
}

func applyInterval(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) != 2 {
		return fmt.Errorf("interval() requires exactly start and end")
	}
	start, isIntStart, err := numericArg(pos[0])
	if err != nil {
		return err
	}
	end, isIntEnd, err := numericArg(pos[1])
	if err != nil {
		return err
	}
	tags, _ := kwarg(args, "tags")
	ov.ValueKind = IntervalSweepKind
	ov.Interval = &IntervalSweep{Start: start, End: end, IsInt: isIntStart && isIntEnd, Tags: stringList(tags)}
	return nil
}

func numericArg(v *value.Value) (float64, bool, error) {
	switch v.Kind {
	case value.KindInt:
		return float64(v.Int), true, nil
	case value.KindFloat:
		return v.Float, false, nil
	default:
		return 0, false, fmt.Errorf("expected a number, got %s", v.Kind)
	}
}

func applyGlob(args []arg, ov *Override) error {
	includeVal, _ := kwarg(args, "include")
	excludeVal, _ := kwarg(args, "exclude")
	include := stringList(includeVal)
	if include == nil {
		if pos := positional(args); len(pos) > 0 {
			include = stringList(pos[0])
		}
	}
	ov.ValueKind = GlobChoiceSweepKind
	ov.GlobVal = &Glob{Include: include, Exclude: stringList(excludeVal)}
	return nil
}

func applyTag(ts *tokenStream, args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) == 0 {
		return fmt.Errorf("tag() requires an inner value")
	}
	inner, ok := unwrapSweepArg(pos[len(pos)-1])
	tags := make([]string, 0, len(pos)-1)
	for _, v := range pos[:len(pos)-1] {
		s, _ := v.AsString()
		tags = append(tags, s)
	}
	if !ok {
		ov.ValueKind = Element
		ov.Value = pos[len(pos)-1]
		return nil
	}
	*ov = *inner
	addTags(ov, tags)
	return nil
}

func addTags(ov *Override, tags []string) {
	switch ov.ValueKind {
	case ChoiceSweepKind, SimpleChoiceSweepKind:
		ov.Choice.Tags = append(ov.Choice.Tags, tags...)
	case RangeSweepKind:
		ov.Range.Tags = append(ov.Range.Tags, tags...)
	case IntervalSweepKind:
		ov.Interval.Tags = append(ov.Interval.Tags, tags...)
	}
}

func applySort(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) == 0 {
		return fmt.Errorf("sort() requires an inner value")
	}
	reverse := boolOf(mustKwarg(args, "reverse"))
	if inner, ok := unwrapSweepArg(pos[0]); ok {
		*ov = *inner
	} else if pos[0].Kind == value.KindSeq {
		ov.ValueKind = ChoiceSweepKind
		ov.Choice = &ChoiceSweep{List: pos[0].Seq}
	} else {
		return fmt.Errorf("sort() requires a list or choice sweep")
	}
	if ov.Choice == nil {
		return fmt.Errorf("sort() requires a choice sweep")
	}
	sortValues(ov.Choice.List, reverse)
	return nil
}

func sortValues(items []*value.Value, reverse bool) {
	sort.SliceStable(items, func(i, j int) bool {
		si, _ := items[i].AsString()
		sj, _ := items[j].AsString()
		if reverse {
			return si > sj
		}
		return si < sj
	})
}

func applyShuffle(ts *tokenStream, args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) == 0 {
		return fmt.Errorf("shuffle() requires an inner value")
	}
	inner, ok := unwrapSweepArg(pos[0])
	if !ok {
		return fmt.Errorf("shuffle() requires a choice or range sweep")
	}
	*ov = *inner
	switch ov.ValueKind {
	case ChoiceSweepKind, SimpleChoiceSweepKind:
		ov.Choice.Shuffle = true
	case RangeSweepKind:
		ov.Range.Shuffle = true
	default:
		return fmt.Errorf("shuffle() is not supported for this sweep type")
	}
	return nil
}

func applyExtendList(args []arg, op ListOperation, ov *Override) error {
	pos := positional(args)
	ov.Type = ExtendList
	ov.ValueKind = Element
	ov.ListMutation = &ListMutation{Operation: op, Values: pos}
	return nil
}

func applyInsert(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) < 1 {
		return fmt.Errorf("insert() requires an index")
	}
	idx, err := strconv.Atoi(mustString(pos[0]))
	if err != nil {
		return fmt.Errorf("insert() index must be an integer: %v", err)
	}
	ov.Type = ExtendList
	ov.ValueKind = Element
	ov.ListMutation = &ListMutation{Operation: OpInsert, Index: &idx, Values: pos[1:]}
	return nil
}

func applyRemoveAt(args []arg, ov *Override) error {
	pos := positional(args)
	if len(pos) != 1 {
		return fmt.Errorf("remove_at() requires exactly one index argument")
	}
	idx, err := strconv.Atoi(mustString(pos[0]))
	if err != nil {
		return fmt.Errorf("remove_at() index must be an integer: %v", err)
	}
	ov.Type = ExtendList
	ov.ValueKind = Element
	ov.ListMutation = &ListMutation{Operation: OpRemoveAt, Index: &idx}
	return nil
}

func mustString(v *value.Value) string {
	s, _ := v.AsString()
	return s
}
