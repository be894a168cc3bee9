package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

func node(id, typ string) Node {
	return Node{ID: id, Type: typ, Params: Params{}}
}

func edge(src, dst string) Edge {
	return Edge{ID: src + "-" + dst, Source: src, Target: dst}
}

func linear() Graph {
	return Graph{
		Nodes: []Node{node("A", "user_query"), node("B", "llm_engine"), node("C", "output")},
		Edges: []Edge{edge("A", "B"), edge("B", "C")},
	}
}

func requireRule(t *testing.T, err error, rule int) {
	t.Helper()
	require.ErrorIs(t, err, apperr.ErrInvalidTopology)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, rule, ae.Details["rule"], ae.Message)
}

func TestValidateLinearGraph(t *testing.T) {
	roles, err := Validate(linear())
	require.NoError(t, err)

	assert.Equal(t, "A", roles.QuerySource().ID)
	assert.Equal(t, "B", roles.Generation().ID)
	assert.Equal(t, "C", roles.Output().ID)
	_, ok := roles.Knowledge()
	assert.False(t, ok)
}

func TestValidateAcceptsCanonicalRoleNames(t *testing.T) {
	g := Graph{
		Nodes: []Node{node("q", "query_source"), node("kb", "knowledge_base"), node("g", "generation_engine"), node("o", "output_sink")},
		Edges: []Edge{edge("q", "kb"), edge("kb", "g"), edge("g", "o")},
	}
	roles, err := Validate(g)
	require.NoError(t, err)
	kb, ok := roles.Knowledge()
	require.True(t, ok)
	assert.Equal(t, "kb", kb.ID)
}

func TestValidateEmpty(t *testing.T) {
	_, err := Validate(Graph{})
	requireRule(t, err, 1)

	_, err = Validate(Graph{Nodes: linear().Nodes})
	requireRule(t, err, 1)
}

func TestValidateUnknownEdgeEndpoint(t *testing.T) {
	g := linear()
	g.Edges = append(g.Edges, edge("C", "ghost"))
	_, err := Validate(g)
	requireRule(t, err, 2)
}

func TestValidateDuplicateNodeID(t *testing.T) {
	g := Graph{
		Nodes: []Node{node("A", "user_query"), node("A", "llm_engine"), node("C", "output")},
		Edges: []Edge{edge("A", "C")},
	}
	_, err := Validate(g)
	requireRule(t, err, 2)
	assert.Contains(t, err.Error(), `duplicate node id "A"`)
}

func TestValidateDuplicateRole(t *testing.T) {
	g := linear()
	g.Nodes = append(g.Nodes, node("B2", "llm_engine"))
	g.Edges = append(g.Edges, edge("A", "B2"))
	_, err := Validate(g)
	requireRule(t, err, 3)
}

func TestValidateUnclassifiedExemptFromUniqueness(t *testing.T) {
	g := linear()
	g.Nodes = append(g.Nodes, node("n1", "note"), node("n2", "note"))
	g.Edges = append(g.Edges, edge("C", "n1"))
	_, err := Validate(g)
	assert.NoError(t, err)
}

func TestValidateMissingRequiredRole(t *testing.T) {
	for _, missing := range []string{"user_query", "llm_engine", "output"} {
		t.Run(missing, func(t *testing.T) {
			g := Graph{}
			for _, n := range linear().Nodes {
				if n.Type != missing {
					g.Nodes = append(g.Nodes, n)
				}
			}
			g.Nodes = append(g.Nodes, node("X", "note"))
			for _, n := range g.Nodes[1:] {
				g.Edges = append(g.Edges, edge(g.Nodes[0].ID, n.ID))
			}
			_, err := Validate(g)
			requireRule(t, err, 4)
		})
	}
}

func TestValidateOutputUnreachable(t *testing.T) {
	g := linear()
	g.Edges = []Edge{edge("A", "B"), edge("C", "B")}
	_, err := Validate(g)
	requireRule(t, err, 5)
}

func TestValidateIgnoresReverseEdges(t *testing.T) {
	g := linear()
	g.Edges = []Edge{edge("B", "A"), edge("C", "B")}
	_, err := Validate(g)
	requireRule(t, err, 5)
}

func TestNodeExtensionsSurviveRoundTrip(t *testing.T) {
	raw := `{"id":"A","type":"user_query","params":{"top_k":"3"},"position":{"x":1,"y":2},"selected":true,"width":150}`

	var n Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	assert.Equal(t, RoleQuerySource, n.Role())
	assert.Equal(t, 3, n.Params.Int("top_k", 4))
	require.NotNil(t, n.Position)
	assert.Equal(t, 2.0, n.Position.Y)
	assert.JSONEq(t, "true", string(n.Extensions["selected"]))

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestEdgeDefaultsData(t *testing.T) {
	var e Edge
	require.NoError(t, json.Unmarshal([]byte(`{"source":"a","target":"b","animated":true}`), &e))
	assert.NotNil(t, e.Data)
	assert.Contains(t, e.Extensions, "animated")
}

func TestParams(t *testing.T) {
	p := Params{"name": "docs", "blank": "  ", "n": 7.0, "s": "12", "bad": "x", "on": true, "str_on": "true"}

	assert.Equal(t, "docs", p.String("name", "default"))
	assert.Equal(t, "default", p.String("blank", "default"))
	assert.Equal(t, "default", p.String("missing", "default"))
	assert.Equal(t, 7, p.Int("n", 4))
	assert.Equal(t, 12, p.Int("s", 4))
	assert.Equal(t, 4, p.Int("bad", 4))
	assert.True(t, p.Bool("on"))
	assert.True(t, p.Bool("str_on"))
	assert.False(t, p.Bool("missing"))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleGenerationEngine, ParseRole(" LLM_ENGINE "))
	assert.Equal(t, RoleUnclassified, ParseRole("webhook"))
	assert.Equal(t, "unclassified", RoleUnclassified.String())
}
