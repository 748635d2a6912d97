// Package graph resolves test case dependency references into trees the
// rest of the system can walk without worrying about cycles.
package graph

import (
	"testline/internal/domain"
)

// Lookup resolves a case id. A false return means the reference dangles
// and the node is skipped rather than failing the whole tree.
type Lookup func(id string) (domain.TestCase, bool)

// MapLookup adapts an in-memory case set to a Lookup.
func MapLookup(cases []domain.TestCase) Lookup {
	byID := make(map[string]domain.TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}
	return func(id string) (domain.TestCase, bool) {
		tc, ok := byID[id]
		return tc, ok
	}
}

// BuildTree expands a case's dependencies into a tree rooted at that case.
// A case may appear on several branches; only a repeat along the same
// root-to-node path is treated as a cycle and cut off, so each branch
// carries its own copy of the visited set.
func BuildTree(rootID string, lookup Lookup) *domain.DependencyNode {
	return buildNode(rootID, lookup, map[string]bool{})
}

func buildNode(id string, lookup Lookup, visited map[string]bool) *domain.DependencyNode {
	if visited[id] {
		return nil
	}
	tc, ok := lookup(id)
	if !ok {
		return nil
	}
	branch := make(map[string]bool, len(visited)+1)
	for k := range visited {
		branch[k] = true
	}
	branch[id] = true

	node := &domain.DependencyNode{
		ID:       tc.ID,
		Name:     tc.Name,
		Type:     tc.Type,
		Status:   tc.Status,
		Children: []*domain.DependencyNode{},
	}
	for _, depID := range tc.Dependencies {
		if child := buildNode(depID, lookup, branch); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// WouldCycle reports whether adding an edge from caseID to dependsOnID
// would close a dependency loop. A self edge always cycles.
func WouldCycle(caseID, dependsOnID string, lookup Lookup) bool {
	if caseID == dependsOnID {
		return true
	}
	return reaches(dependsOnID, caseID, lookup, map[string]bool{})
}

func reaches(from, target string, lookup Lookup, seen map[string]bool) bool {
	if from == target {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	tc, ok := lookup(from)
	if !ok {
		return false
	}
	for _, dep := range tc.Dependencies {
		if reaches(dep, target, lookup, seen) {
			return true
		}
	}
	return false
}
