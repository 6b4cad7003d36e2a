package compiler

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/awalterschulze/gographviz"

	"github.com/roach88/depflow/internal/ir"
)

const dotGraphName = "depflow"

// DOT renders the dependency set as a Graphviz digraph.
//
// Dependencies are ellipse nodes named fn<id>, components are box nodes
// named c<id>. A component edge carries the event name that triggers the
// dependency; a trigger_after edge carries the chain condition.
func DOT(decls []ir.Declaration) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(dotGraphName, "rankdir", "LR"); err != nil {
		return "", err
	}

	sorted := slices.Clone(decls)
	slices.SortStableFunc(sorted, func(a, b ir.Declaration) int { return a.ID - b.ID })

	declared := make(map[int]bool, len(sorted))
	for _, d := range sorted {
		declared[d.ID] = true
	}

	components := make(map[int]bool)
	for _, d := range sorted {
		label := strconv.Itoa(d.ID)
		if d.APIName != "" {
			label += " " + d.APIName
		}
		if err := g.AddNode(dotGraphName, fnNode(d.ID), map[string]string{
			"label": strconv.Quote(label),
		}); err != nil {
			return "", fmt.Errorf("dot node %d: %w", d.ID, err)
		}

		for _, t := range d.Targets {
			if !components[t.ComponentID] {
				components[t.ComponentID] = true
				if err := g.AddNode(dotGraphName, componentNode(t.ComponentID), map[string]string{
					"shape": "box",
					"label": strconv.Quote(strconv.Itoa(t.ComponentID)),
				}); err != nil {
					return "", fmt.Errorf("dot component %d: %w", t.ComponentID, err)
				}
			}
			if err := g.AddEdge(componentNode(t.ComponentID), fnNode(d.ID), true, map[string]string{
				"label": strconv.Quote(t.Event),
			}); err != nil {
				return "", fmt.Errorf("dot target %s: %w", t.Key(), err)
			}
		}
	}

	for _, d := range sorted {
		if d.TriggerAfter == nil || !declared[*d.TriggerAfter] {
			continue
		}
		attrs := map[string]string{"label": strconv.Quote(string(d.TriggerCondition()))}
		if d.TriggerCondition() == ir.ConditionFailure {
			attrs["style"] = "dashed"
		}
		if err := g.AddEdge(fnNode(*d.TriggerAfter), fnNode(d.ID), true, attrs); err != nil {
			return "", fmt.Errorf("dot chain %d: %w", d.ID, err)
		}
	}

	return g.String(), nil
}

func fnNode(id int) string { return "fn" + strconv.Itoa(id) }

func componentNode(id int) string { return "c" + strconv.Itoa(id) }
