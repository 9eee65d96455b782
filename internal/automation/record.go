// Package automation reads, extends and atomically rewrites a Home Assistant
// automations.yaml file.
package automation

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyID is the mapping key Home Assistant uses to identify an automation.
const KeyID = "id"

// Record is one automation definition. It wraps the YAML mapping node so the
// key order and comments of the source survive a load/save cycle.
type Record struct {
	node *yaml.Node
}

// ParseRecord parses text as a single YAML mapping. A surrounding markdown
// code fence is stripped first since chat models like to add one.
func ParseRecord(text string) (Record, error) {
	body := stripFence(text)
	if strings.TrimSpace(body) == "" {
		return Record{}, &ParseError{Err: errors.New("empty reply")}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return Record{}, &ParseError{Err: err}
	}
	n := contentNode(&doc)
	if n == nil {
		return Record{}, &ParseError{Err: errors.New("empty document")}
	}
	if n.Kind != yaml.MappingNode {
		return Record{}, &ParseError{Err: fmt.Errorf("expected a mapping, got %s", kindName(n))}
	}
	// Decoding the node runs the duplicate key check the node parse skips.
	if err := n.Decode(&map[string]any{}); err != nil {
		return Record{}, &ParseError{Err: err}
	}
	return Record{node: n}, nil
}

// ID returns the record's id, or "" when it has none.
func (r Record) ID() string {
	if v := r.lookup(KeyID); v != nil {
		return v.Value
	}
	return ""
}

// SetID sets the id key, replacing any existing value. New ids are placed
// first, matching files written by the Home Assistant editor.
func (r Record) SetID(id string) {
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: id}
	for i := 0; i+1 < len(r.node.Content); i += 2 {
		if r.node.Content[i].Value == KeyID {
			r.node.Content[i+1] = val
			return
		}
	}
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: KeyID}
	r.node.Content = append([]*yaml.Node{key, val}, r.node.Content...)
}

// Decode decodes the record into v.
func (r Record) Decode(v any) error {
	if r.node == nil {
		return errors.New("empty record")
	}
	return r.node.Decode(v)
}

// Map returns the record as a generic map.
func (r Record) Map() (map[string]any, error) {
	out := map[string]any{}
	if err := r.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Record) lookup(key string) *yaml.Node {
	if r.node == nil {
		return nil
	}
	for i := 0; i+1 < len(r.node.Content); i += 2 {
		if r.node.Content[i].Value == key {
			return r.node.Content[i+1]
		}
	}
	return nil
}

// contentNode unwraps a document node. It returns nil for empty input.
func contentNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == 0 {
		return nil
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil
		}
		return doc.Content[0]
	}
	return doc
}

func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	// drop the info string (```yaml)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		t = ""
	}
	t = strings.TrimRight(t, " \t\r\n")
	t = strings.TrimSuffix(t, "```")
	return t
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.AliasNode:
		return "an alias"
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return "null"
		}
		return "a scalar"
	default:
		return "an unknown node"
	}
}
