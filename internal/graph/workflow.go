// Package graph models the node/edge workflow definition submitted with each
// request and validates its topology.
package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Role is the functional category of a node.
type Role string

const (
	RoleQuerySource      Role = "user_query"
	RoleKnowledgeBase    Role = "knowledge_base"
	RoleGenerationEngine Role = "llm_engine"
	RoleOutputSink       Role = "output"
	RoleUnclassified     Role = ""
)

var roleAliases = map[string]Role{
	"user_query":        RoleQuerySource,
	"query_source":      RoleQuerySource,
	"knowledge_base":    RoleKnowledgeBase,
	"llm_engine":        RoleGenerationEngine,
	"generation_engine": RoleGenerationEngine,
	"output":            RoleOutputSink,
	"output_sink":       RoleOutputSink,
}

// ParseRole maps a node type string to its role. Unknown types are unclassified.
func ParseRole(t string) Role {
	if r, ok := roleAliases[strings.ToLower(strings.TrimSpace(t))]; ok {
		return r
	}
	return RoleUnclassified
}

func (r Role) String() string {
	switch r {
	case RoleQuerySource:
		return "user_query"
	case RoleKnowledgeBase:
		return "knowledge_base"
	case RoleGenerationEngine:
		return "llm_engine"
	case RoleOutputSink:
		return "output"
	}
	return "unclassified"
}

// Position is the canvas coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one processing step of a workflow.
type Node struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Params   Params    `json:"params"`
	Position *Position `json:"position,omitempty"`

	// Extensions holds fields the builder UI sends that the pipeline does not use.
	Extensions map[string]json.RawMessage `json:"-"`
}

// Role classifies the node by its type.
func (n Node) Role() Role { return ParseRole(n.Type) }

var nodeFields = []string{"id", "type", "params", "position"}

func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	ext, err := extensions(data, nodeFields)
	if err != nil {
		return err
	}
	p.Extensions = ext
	if p.Params == nil {
		p.Params = Params{}
	}
	*n = Node(p)
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	p := plain(n)
	if p.Params == nil {
		p.Params = Params{}
	}
	return withExtensions(p, n.Extensions)
}

// Edge connects two nodes, source to target.
type Edge struct {
	ID     string         `json:"id,omitempty"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data"`

	Extensions map[string]json.RawMessage `json:"-"`
}

var edgeFields = []string{"id", "source", "target", "data"}

func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	ext, err := extensions(data, edgeFields)
	if err != nil {
		return err
	}
	p.Extensions = ext
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	*e = Edge(p)
	return nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	type plain Edge
	p := plain(e)
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return withExtensions(p, e.Extensions)
}

// Graph is the workflow definition for one execution.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func extensions(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func withExtensions(v any, ext map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(ext) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, raw := range ext {
		if _, taken := merged[k]; !taken {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

// Params is the free-form configuration bag of a node.
type Params map[string]any

// String returns the string value at key, or def when absent or empty.
func (p Params) String(key, def string) string {
	switch v := p[key].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return def
}

// Int returns the integer value at key. Numeric strings are accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool reports whether the value at key is truthy.
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v != 0
	}
	return false
}
