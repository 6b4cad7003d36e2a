package compiler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/depflow/internal/ir"
)

// CycleWarning represents a loop in the trigger_after graph.
//
// Cycles are warnings, not errors: a chain that fires only on failure (or
// only on success) may terminate at runtime. Unterminated cycles are cut
// by the manager's step quota.
type CycleWarning struct {
	Path    []int  `json:"path"`    // Cycle path: [3, 4, 3]
	Message string `json:"message"` // Human-readable description
	Level   string `json:"level"`   // "warning"
}

// AnalyzeCycles performs static cycle analysis on trigger_after links.
//
// The algorithm:
//  1. Build a parent → chained-dependency graph from trigger_after
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// Warnings are ordered by the smallest dependency id in the cycle.
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(decls []ir.Declaration) []CycleWarning {
	warnings := []CycleWarning{}
	if len(decls) == 0 {
		return warnings
	}

	graph := buildTriggerGraph(decls)
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return slices.Min(a.Path) - slices.Min(b.Path)
	})
	return warnings
}

// triggerGraph maps a dependency id to the ids chained after it.
type triggerGraph map[int][]int

// buildTriggerGraph adds an edge parent → child for every declaration
// with trigger_after. Every declared id is a node. Edges to undeclared
// parents are dropped.
func buildTriggerGraph(decls []ir.Declaration) triggerGraph {
	graph := make(triggerGraph, len(decls))
	for _, d := range decls {
		if graph[d.ID] == nil {
			graph[d.ID] = []int{}
		}
	}
	for _, d := range decls {
		if d.TriggerAfter == nil {
			continue
		}
		parent := *d.TriggerAfter
		if _, ok := graph[parent]; !ok {
			continue
		}
		graph[parent] = append(graph[parent], d.ID)
	}
	for id := range graph {
		slices.Sort(graph[id])
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node int, graph triggerGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in ascending id order so results are deterministic.
func tarjanSCC(graph triggerGraph) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make(map[int]int)
		lowlink = make(map[int]int)
		onStack = make(map[int]bool)
		sccs    [][]int
	)

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]int, 0, len(graph))
	for id := range graph {
		nodes = append(nodes, id)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []int, graph triggerGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []int{id, id},
			Message: fmt.Sprintf("dependency %d triggers itself", id),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: "trigger cycle detected: " + formatPath(path),
		Level:   "warning",
	}
}

// reconstructCyclePath walks SCC members from the smallest id until it
// returns to the start.
func reconstructCyclePath(scc []int, graph triggerGraph) []int {
	if len(scc) == 0 {
		return []int{}
	}

	members := make(map[int]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}

	start := slices.Min(scc)
	current := start
	path := []int{current}
	visited := make(map[int]bool)

	for {
		visited[current] = true

		next, found := 0, false
		for _, n := range graph[current] {
			if members[n] && (!visited[n] || n == start) {
				next, found = n, true
				break
			}
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}

func formatPath(path []int) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " -> ")
}
