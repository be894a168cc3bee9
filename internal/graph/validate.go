package graph

import (
	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

// Roles maps each recognized role of a validated graph to its node.
type Roles map[Role]Node

// QuerySource returns the query source node.
func (r Roles) QuerySource() Node { return r[RoleQuerySource] }

// Generation returns the generation engine node.
func (r Roles) Generation() Node { return r[RoleGenerationEngine] }

// Output returns the output sink node.
func (r Roles) Output() Node { return r[RoleOutputSink] }

// Knowledge returns the knowledge base node, if the graph declares one.
func (r Roles) Knowledge() (Node, bool) {
	n, ok := r[RoleKnowledgeBase]
	return n, ok
}

var requiredRoles = []Role{RoleQuerySource, RoleGenerationEngine, RoleOutputSink}

// Validate checks the graph against the topology rules in order and returns
// the node for each recognized role. The first failing rule is reported.
func Validate(g Graph) (Roles, error) {
	if len(g.Nodes) == 0 {
		return nil, topologyError(1, "workflow must have at least one node")
	}
	if len(g.Edges) == 0 {
		return nil, topologyError(1, "workflow must have at least one edge")
	}

	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := ids[n.ID]; dup {
			return nil, topologyError(2, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if _, ok := ids[end]; !ok {
				return nil, topologyError(2, "edge %q references unknown node %q", e.ID, end)
			}
		}
	}

	roles := make(Roles, len(requiredRoles)+1)
	for _, n := range g.Nodes {
		role := n.Role()
		if role == RoleUnclassified {
			continue
		}
		if _, dup := roles[role]; dup {
			return nil, topologyError(3, "only one %s node is allowed", role)
		}
		roles[role] = n
	}

	for _, role := range requiredRoles {
		if _, ok := roles[role]; !ok {
			return nil, topologyError(4, "missing required node: %s", role)
		}
	}

	visited := reachable(g.Edges, roles.QuerySource().ID)
	for _, role := range []Role{RoleGenerationEngine, RoleOutputSink} {
		if !visited[roles[role].ID] {
			return nil, topologyError(5, "flow must connect the query source to the generation engine and the output")
		}
	}
	return roles, nil
}

// reachable runs a breadth-first traversal over the directed edges.
func reachable(edges []Edge, start string) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

func topologyError(rule int, format string, args ...any) error {
	return apperr.Newf(apperr.CodeInvalidTopology, format, args...).
		WithDetails(map[string]any{"rule": rule})
}
