package override

import (
	"strconv"
	"strings"

	"stratum/pkg/value"
)

// Render re-emits o as an override string that parses back to an equivalent
// record: same type, key, package, value kind and value. Quoted strings keep
// their recorded quote character.
func (o *Override) Render() string {
	var b strings.Builder
	switch o.Type {
	case Add:
		b.WriteString("+")
	case ForceAdd:
		b.WriteString("++")
	case Del:
		b.WriteString("~")
	}
	b.WriteString(o.Key.KeyOrGroup)
	if o.Key.Package != "" {
		b.WriteString("@")
		b.WriteString(o.Key.Package)
	}

	if o.Type == Del && o.Value == nil && o.ListMutation == nil && !o.IsSweep() {
		return b.String()
	}
	b.WriteString("=")
	b.WriteString(o.renderValue())
	return b.String()
}

func (o *Override) renderValue() string {
	if o.Type == ExtendList {
		return renderMutation(o.ListMutation)
	}
	switch o.ValueKind {
	case SimpleChoiceSweepKind:
		return renderElements(o.Choice.List)
	case ChoiceSweepKind:
		return wrapSweepDecorators("choice("+renderElements(o.Choice.List)+")", o.Choice.Tags, o.Choice.Shuffle)
	case RangeSweepKind:
		r := o.Range
		inner := "range(" + renderNumber(r.Start, r.IsInt) + "," + renderNumber(r.Stop, r.IsInt) + "," + renderNumber(r.Step, r.IsInt) + ")"
		return wrapSweepDecorators(inner, r.Tags, r.Shuffle)
	case IntervalSweepKind:
		iv := o.Interval
		inner := "interval(" + renderNumber(iv.Start, iv.IsInt) + "," + renderNumber(iv.End, iv.IsInt) + ")"
		return wrapSweepDecorators(inner, iv.Tags, false)
	case GlobChoiceSweepKind:
		var parts []string
		if len(o.GlobVal.Include) > 0 {
			parts = append(parts, "include=["+strings.Join(o.GlobVal.Include, ",")+"]")
		}
		if len(o.GlobVal.Exclude) > 0 {
			parts = append(parts, "exclude=["+strings.Join(o.GlobVal.Exclude, ",")+"]")
		}
		return "glob(" + strings.Join(parts, ",") + ")"
	default:
		return renderElement(o.Value)
	}
}

func wrapSweepDecorators(inner string, tags []string, shuffle bool) string {
	if len(tags) > 0 {
		inner = "tag(" + strings.Join(tags, ",") + "," + inner + ")"
	}
	if shuffle {
		inner = "shuffle(" + inner + ")"
	}
	return inner
}

func renderMutation(m *ListMutation) string {
	switch m.Operation {
	case OpAppend:
		return "append(" + renderElements(m.Values) + ")"
	case OpPrepend:
		return "prepend(" + renderElements(m.Values) + ")"
	case OpInsert:
		return "insert(" + strconv.Itoa(*m.Index) + "," + renderElements(m.Values) + ")"
	case OpRemoveAt:
		return "remove_at(" + strconv.Itoa(*m.Index) + ")"
	case OpRemoveValue:
		return "remove_value(" + renderElements(m.Values) + ")"
	case OpClear:
		return "list_clear()"
	default:
		return ""
	}
}

func renderElements(items []*value.Value) string {
	parts := make([]string, 0, len(items))
	for _, v := range items {
		parts = append(parts, renderElement(v))
	}
	return strings.Join(parts, ",")
}

func renderElement(v *value.Value) string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case value.KindQuoted:
		q := string(byte(v.Quote))
		return q + v.Str + q
	case value.KindSeq:
		return "[" + renderElements(v.Seq) + "]"
	case value.KindMap:
		parts := make([]string, 0, v.Map.Len())
		for _, k := range v.Map.Keys() {
			child, _ := v.Map.Get(k)
			parts = append(parts, k+":"+renderElement(child))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case value.KindMissing:
		return "???"
	case value.KindFloat:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		s, err := v.AsString()
		if err != nil {
			return ""
		}
		return s
	}
}

func renderNumber(x float64, isInt bool) string {
	if isInt {
		return strconv.FormatInt(int64(x), 10)
	}
	s := strconv.FormatFloat(x, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
