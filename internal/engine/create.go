package engine

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

// DefaultMaxOriginHops bounds the trigger_after walk to a chain's root.
const DefaultMaxOriginHops = 100

// Create builds the id and event indexes for decls.
//
// Pass one compiles every declaration and indexes it. Pass two resolves
// trigger_after links and backfills each dependency's original trigger id;
// it runs after pass one because a link may point forward in the list.
//
// Every compile failure is reported; the indexes are nil when any
// declaration fails.
func Create(decls []ir.Declaration, evaluator script.Evaluator, maxHops int) (map[int]*Dependency, map[string][]*Dependency, error) {
	deps, err := build(decls, evaluator)
	if err != nil {
		return nil, nil, err
	}

	byFn := make(map[int]*Dependency, len(deps))
	byEvent := make(map[string][]*Dependency)
	for _, dep := range deps {
		index(byFn, byEvent, dep)
	}
	link(byFn, maxHops)

	return byFn, byEvent, nil
}

func build(decls []ir.Declaration, evaluator script.Evaluator) ([]*Dependency, error) {
	deps := make([]*Dependency, 0, len(decls))
	var errs []error
	for _, decl := range decls {
		dep, err := NewDependency(decl, evaluator)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deps = append(deps, dep)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return deps, nil
}

// index registers dep, replacing any dependency with the same id in place
// so event lists keep their declaration order.
func index(byFn map[int]*Dependency, byEvent map[string][]*Dependency, dep *Dependency) {
	if old, ok := byFn[dep.ID()]; ok {
		unindexEvents(byEvent, old, dep)
	}
	byFn[dep.ID()] = dep

	for _, t := range dep.Declaration().Targets {
		key := t.Key()
		list := byEvent[key]
		i := slices.IndexFunc(list, func(d *Dependency) bool { return d.ID() == dep.ID() })
		if i >= 0 {
			list[i] = dep
			continue
		}
		byEvent[key] = append(list, dep)
	}
}

// unindexEvents removes old from every event list that replacement does
// not also bind. A nil replacement removes old everywhere.
func unindexEvents(byEvent map[string][]*Dependency, old, replacement *Dependency) {
	keep := make(map[string]bool)
	if replacement != nil {
		for _, t := range replacement.Declaration().Targets {
			keep[t.Key()] = true
		}
	}
	for _, t := range old.Declaration().Targets {
		key := t.Key()
		if keep[key] {
			continue
		}
		list := slices.DeleteFunc(byEvent[key], func(d *Dependency) bool { return d.ID() == old.ID() })
		if len(list) == 0 {
			delete(byEvent, key)
		} else {
			byEvent[key] = list
		}
	}
}

// link rebuilds every chained trigger from the trigger_after declarations
// and recomputes original trigger ids. Dependencies are visited in id
// order so trigger lists are deterministic.
func link(byFn map[int]*Dependency, maxHops int) {
	ids := sortedIDs(byFn)

	for _, id := range ids {
		byFn[id].resetTriggers()
	}

	for _, id := range ids {
		dep := byFn[id]
		after := dep.Declaration().TriggerAfter
		if after == nil {
			continue
		}
		parent, ok := byFn[*after]
		if !ok {
			slog.Warn("dangling trigger_after",
				"dependency", id,
				"trigger_after", *after,
			)
			continue
		}
		parent.AddTrigger(id, dep.Declaration().TriggerCondition())
	}

	for _, id := range ids {
		byFn[id].originalTriggerID = originOf(byFn, id, maxHops)
	}
}

// originOf walks trigger_after links from id back to the root of its chain.
//
// A missing dependency or a dangling link ends the walk at the last id
// that resolved. A cycle ends the walk after maxHops steps at the last id
// visited.
func originOf(byFn map[int]*Dependency, id int, maxHops int) int {
	current := id
	for range maxHops {
		dep, ok := byFn[current]
		if !ok {
			return current
		}
		after := dep.Declaration().TriggerAfter
		if after == nil {
			return current
		}
		if _, ok := byFn[*after]; !ok {
			return current
		}
		current = *after
	}
	return current
}

func sortedIDs(byFn map[int]*Dependency) []int {
	ids := make([]int, 0, len(byFn))
	for id := range byFn {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
