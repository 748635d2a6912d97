package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testline/internal/domain"
)

func tc(id string, deps ...string) domain.TestCase {
	return domain.TestCase{ID: id, Name: "case " + id, Type: "positive", Status: "draft", Dependencies: deps}
}

func TestBuildTreeDiamond(t *testing.T) {
	lookup := MapLookup([]domain.TestCase{
		tc("a", "b", "c"),
		tc("b", "d"),
		tc("c", "d"),
		tc("d"),
	})
	tree := BuildTree("a", lookup)
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 2)

	// d is not a cycle: it must appear under both b and c
	for _, child := range tree.Children {
		require.Len(t, child.Children, 1, "branch %s", child.ID)
		assert.Equal(t, "d", child.Children[0].ID)
	}
}

func TestBuildTreeCutsCycles(t *testing.T) {
	lookup := MapLookup([]domain.TestCase{
		tc("a", "b"),
		tc("b", "c"),
		tc("c", "a"),
	})
	tree := BuildTree("a", lookup)
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 1)
	b := tree.Children[0]
	require.Len(t, b.Children, 1)
	c := b.Children[0]
	// the back edge c -> a is dropped instead of recursing forever
	assert.Empty(t, c.Children)
}

func TestBuildTreeSkipsDanglingRefs(t *testing.T) {
	lookup := MapLookup([]domain.TestCase{
		tc("a", "gone", "b"),
		tc("b"),
	})
	tree := BuildTree("a", lookup)
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "b", tree.Children[0].ID)
}

func TestBuildTreeMissingRoot(t *testing.T) {
	tree := BuildTree("nope", MapLookup(nil))
	assert.Nil(t, tree)
}

func TestWouldCycle(t *testing.T) {
	lookup := MapLookup([]domain.TestCase{
		tc("a", "b"),
		tc("b", "c"),
		tc("c"),
		tc("x"),
	})
	assert.True(t, WouldCycle("a", "a", lookup), "self edge")
	assert.True(t, WouldCycle("c", "a", lookup), "closing the chain")
	assert.False(t, WouldCycle("a", "c", lookup), "forward edge")
	assert.False(t, WouldCycle("a", "x", lookup), "unrelated case")
	assert.False(t, WouldCycle("a", "gone", lookup), "dangling target")
}
