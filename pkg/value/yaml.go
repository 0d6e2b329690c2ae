package value

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// headerPrefix is the comment marker a config file's directive lines begin
// with, e.g. "# @package db/mysql".
const headerPrefix = "# @"

// DecodeDocument parses raw YAML bytes into a Document, first peeling off
// any leading "# @key value" header lines and then handing the remainder to
// the YAML decoder.
func DecodeDocument(data []byte) (*Document, error) {
	header, body := splitHeader(data)

	var root yaml.Node
	if len(bytes.TrimSpace(body)) == 0 {
		return &Document{Root: NewMap(), Header: header}, nil
	}
	if err := yaml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	v, err := nodeToValue(&root)
	if err != nil {
		return nil, err
	}
	return &Document{Root: v, Header: header}, nil
}

// EncodeValue renders v back to YAML bytes. Quoted values are emitted with
// their recorded quote style so round-tripping a parsed document reproduces
// its original spelling.
func EncodeValue(v *Value) ([]byte, error) {
	node, err := valueToNode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func splitHeader(data []byte) (Header, []byte) {
	header := Header{Extra: map[string]string{}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var consumed int
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			consumed += len(line) + 1
			continue
		}
		if !strings.HasPrefix(trimmed, headerPrefix) {
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, headerPrefix))
		fields := strings.SplitN(rest, " ", 2)
		key := fields[0]
		val := ""
		if len(fields) == 2 {
			val = strings.TrimSpace(fields[1])
		}
		if key == "package" {
			header.Package = val
		} else {
			header.Extra[key] = val
		}
		consumed += len(line) + 1
	}
	if consumed > len(data) {
		consumed = len(data)
	}
	return header, data[consumed:]
}

func nodeToValue(n *yaml.Node) (*Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return nodeToValue(n.Content[0])
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode := n.Content[i]
			valNode := n.Content[i+1]
			v, err := nodeToValue(valNode)
			if err != nil {
				return nil, err
			}
			m.Map.Set(keyNode.Value, v)
		}
		return m, nil
	case yaml.SequenceNode:
		seq := make([]*Value, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := nodeToValue(item)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return NewSeq(seq...), nil
	case yaml.ScalarNode:
		return scalarToValue(n), nil
	case yaml.AliasNode:
		return nodeToValue(n.Alias)
	default:
		return Null(), nil
	}
}

func scalarToValue(n *yaml.Node) *Value {
	if n.Tag == "!!null" || (n.Tag == "" && n.Value == "" && n.Style == 0) {
		return Null()
	}
	if n.Value == "???" && n.Style == 0 {
		return Missing()
	}
	switch n.Style {
	case yaml.SingleQuotedStyle:
		return QuotedString(n.Value, SingleQuote)
	case yaml.DoubleQuotedStyle:
		return QuotedString(n.Value, DoubleQuote)
	}
	switch n.Tag {
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err == nil {
			return Bool(b)
		}
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err == nil {
			return Int(i)
		}
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err == nil {
			return Float(f)
		}
	case "!!str":
		return String(n.Value)
	}
	return String(n.Value)
}

func valueToNode(v *Value) (*yaml.Node, error) {
	switch v.Kind {
	case KindNull, KindMissing:
		text := "null"
		if v.Kind == KindMissing {
			text = "???"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: text}, nil
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.Bool)}, nil
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.Int, 10)}, nil
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v.Float, 'g', -1, 64)}, nil
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Str}, nil
	case KindQuoted:
		style := yaml.DoubleQuotedStyle
		if v.Quote == SingleQuote {
			style = yaml.SingleQuotedStyle
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Str, Style: style}, nil
	case KindMap:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.Map.Keys() {
			child, _ := v.Map.Get(k)
			childNode, err := valueToNode(child)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, childNode)
		}
		return node, nil
	case KindSeq:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Seq {
			childNode, err := valueToNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, childNode)
		}
		return node, nil
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", v.Kind)
	}
}
