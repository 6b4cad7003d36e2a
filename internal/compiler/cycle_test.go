package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func after(id, parent int) ir.Declaration {
	return ir.Declaration{ID: id, TriggerAfter: ir.IntPtr(parent)}
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	warnings := AnalyzeCycles(nil)
	assert.NotNil(t, warnings)
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_Chain(t *testing.T) {
	decls := []ir.Declaration{{ID: 0}, after(1, 0), after(2, 1), after(3, 0)}
	assert.Empty(t, AnalyzeCycles(decls), "a chain should produce no cycle warnings")
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	warnings := AnalyzeCycles([]ir.Declaration{after(4, 4)})
	require.Len(t, warnings, 1)
	assert.Equal(t, []int{4, 4}, warnings[0].Path)
	assert.Equal(t, "dependency 4 triggers itself", warnings[0].Message)
	assert.Equal(t, "warning", warnings[0].Level)
}

func TestAnalyzeCycles_TwoNodeCycle(t *testing.T) {
	warnings := AnalyzeCycles([]ir.Declaration{after(1, 2), after(2, 1)})
	require.Len(t, warnings, 1)
	assert.Equal(t, []int{1, 2, 1}, warnings[0].Path)
	assert.Equal(t, "trigger cycle detected: 1 -> 2 -> 1", warnings[0].Message)
}

func TestAnalyzeCycles_ThreeNodeCycleWithTail(t *testing.T) {
	decls := []ir.Declaration{after(5, 7), after(6, 5), after(7, 6), after(8, 7)}
	warnings := AnalyzeCycles(decls)
	require.Len(t, warnings, 1)
	assert.Equal(t, []int{5, 6, 7, 5}, warnings[0].Path)
}

func TestAnalyzeCycles_MultipleIndependentCycles(t *testing.T) {
	decls := []ir.Declaration{after(10, 11), after(11, 10), after(1, 2), after(2, 1), {ID: 3}}
	warnings := AnalyzeCycles(decls)
	require.Len(t, warnings, 2)
	assert.Equal(t, []int{1, 2, 1}, warnings[0].Path)
	assert.Equal(t, []int{10, 11, 10}, warnings[1].Path)
}

func TestAnalyzeCycles_DanglingParentIgnored(t *testing.T) {
	assert.Empty(t, AnalyzeCycles([]ir.Declaration{after(1, 99)}))
}

func TestBuildTriggerGraph(t *testing.T) {
	graph := buildTriggerGraph([]ir.Declaration{{ID: 0}, after(2, 0), after(1, 0), after(3, 42)})
	assert.Equal(t, []int{1, 2}, graph[0])
	assert.Empty(t, graph[3])
	_, ok := graph[42]
	assert.False(t, ok)
}

func TestTarjanSCC_SingleNode(t *testing.T) {
	sccs := tarjanSCC(triggerGraph{1: {}})
	assert.Equal(t, [][]int{{1}}, sccs)
}

func TestReconstructCyclePath_Empty(t *testing.T) {
	assert.Empty(t, reconstructCyclePath(nil, triggerGraph{}))
}
