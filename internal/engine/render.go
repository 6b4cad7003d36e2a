package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/depflow/internal/ir"
)

// applyRender merges the dependencies of a partial re-render into the
// live indexes.
//
// New ids are added and existing ids are replaced in place. Ids that an
// earlier render with the same render id introduced, and that this render
// no longer declares, stop being dispatchable. A client that implements
// Registrar sees the new declarations before any of them is dispatched.
func (m *Manager) applyRender(payload ir.RenderPayload) error {
	m.renderer.Rerender(payload.Components, payload.Layout)

	fresh, err := build(payload.Dependencies, m.evaluator)
	if err != nil {
		return fmt.Errorf("render %d: %w", payload.RenderID, err)
	}
	if reg, ok := m.client.(Registrar); ok {
		reg.Register(payload.Dependencies...)
	}

	now := make(map[int]struct{}, len(fresh))
	for _, dep := range fresh {
		now[dep.ID()] = struct{}{}
	}

	m.mu.Lock()
	var removed []int
	for id := range m.renderDeps[payload.RenderID] {
		if _, ok := now[id]; ok {
			continue
		}
		if old, ok := m.byFn[id]; ok {
			unindexEvents(m.byEvent, old, nil)
			delete(m.byFn, id)
			removed = append(removed, id)
		}
	}
	for _, dep := range fresh {
		index(m.byFn, m.byEvent, dep)
	}
	link(m.byFn, m.maxHops)
	m.renderDeps[payload.RenderID] = now
	m.mu.Unlock()

	m.registerStatus(fresh)

	slog.Info("render applied",
		"render_id", payload.RenderID,
		"dependencies", len(fresh),
		"removed", len(removed),
	)
	return nil
}
