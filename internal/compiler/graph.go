package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/depflow/internal/ir"
)

// ChainNode is one dependency in a trigger chain tree.
type ChainNode struct {
	ID        int                 `json:"id"`
	APIName   string              `json:"api_name,omitempty"`
	Condition ir.TriggerCondition `json:"condition,omitempty"`
	Targets   []ir.Target         `json:"targets,omitempty"`
	Children  []ChainNode         `json:"children,omitempty"`
}

// Chains builds the trigger chain forest. Roots are declarations without
// trigger_after or whose trigger_after is undeclared; children are
// ordered by id. Root nodes carry no condition.
//
// Dependencies that only sit on a cycle are unreachable from any root
// and are left out; AnalyzeCycles reports them.
func Chains(decls []ir.Declaration) []ChainNode {
	byID := make(map[int]ir.Declaration, len(decls))
	for _, d := range decls {
		byID[d.ID] = d
	}
	graph := buildTriggerGraph(decls)

	var roots []int
	for id, d := range byID {
		if d.TriggerAfter == nil {
			roots = append(roots, id)
			continue
		}
		if _, ok := byID[*d.TriggerAfter]; !ok {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)

	seen := make(map[int]bool, len(byID))
	var build func(id int, root bool) ChainNode
	build = func(id int, root bool) ChainNode {
		seen[id] = true
		d := byID[id]
		node := ChainNode{ID: id, APIName: d.APIName, Targets: d.Targets}
		if !root {
			node.Condition = d.TriggerCondition()
		}
		for _, child := range graph[id] {
			if seen[child] {
				continue
			}
			node.Children = append(node.Children, build(child, false))
		}
		return node
	}

	forest := []ChainNode{}
	for _, id := range roots {
		forest = append(forest, build(id, true))
	}
	return forest
}

// FormatChains renders a chain forest as an indented text tree.
func FormatChains(forest []ChainNode) string {
	var b strings.Builder
	var write func(n ChainNode, depth int)
	write = func(n ChainNode, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		if depth > 0 {
			fmt.Fprintf(&b, "└─[%s] ", n.Condition)
		}
		fmt.Fprintf(&b, "%d", n.ID)
		if n.APIName != "" {
			fmt.Fprintf(&b, " %s", n.APIName)
		}
		if len(n.Targets) > 0 {
			keys := make([]string, len(n.Targets))
			for i, t := range n.Targets {
				keys[i] = t.Key()
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(keys, ", "))
		}
		b.WriteByte('\n')
		for _, c := range n.Children {
			write(c, depth+1)
		}
	}
	for _, n := range forest {
		write(n, 0)
	}
	return b.String()
}
