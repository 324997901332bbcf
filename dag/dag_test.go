package dag

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/models"
)

type testNode struct {
	name    models.ResourceName
	depends []models.ResourceName
}

func (n *testNode) GetFQN() models.NodeFQN {
	return models.NewNodeFQNForJob(n.name)
}

func (n *testNode) GetFQNDependencies() []models.NodeFQN {
	var fqns []models.NodeFQN
	for _, name := range n.depends {
		fqns = append(fqns, models.NewNodeFQNForJob(name))
	}
	return fqns
}

func newTestNodes(edges map[models.ResourceName][]models.ResourceName) []Node {
	var nodes []Node
	for name, depends := range edges {
		nodes = append(nodes, &testNode{name: name, depends: depends})
	}
	return nodes
}

func TestNewDAG(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"static": nil,
		"test":   {"static"},
		"docs":   nil,
		"dist":   {"test"},
	}))
	require.NoError(t, err)
	require.NotNil(t, d.Get(models.NewNodeFQNForJob("test")))
	require.Nil(t, d.Get(models.NewNodeFQNForJob("ghost")))
}

func TestNewDAGUnknownDependency(t *testing.T) {
	_, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": {"ghost"},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestNewDAGCycle(t *testing.T) {
	_, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}))
	require.Error(t, err)
	require.True(t, gerror.IsCircularDependency(err))
}

func TestNodesTopologicalOrder(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}))
	require.NoError(t, err)

	nodes, err := d.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	position := make(map[string]int, len(nodes))
	for i, node := range nodes {
		position[node.GetFQN().String()] = i
	}
	require.Less(t, position["a"], position["b"])
	require.Less(t, position["a"], position["c"])
	require.Less(t, position["b"], position["d"])
	require.Less(t, position["c"], position["d"])

	// Repeated sorts produce the same order
	again, err := d.Nodes()
	require.NoError(t, err)
	for i := range nodes {
		require.Equal(t, nodes[i].GetFQN(), again[i].GetFQN())
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"d": nil,
	}))
	require.NoError(t, err)

	ancestors, err := d.Ancestors(models.NewNodeFQNForJob("c"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, fqnStrings(ancestors))

	descendants, err := d.Descendants(models.NewNodeFQNForJob("a"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b", "c"}, fqnStrings(descendants))

	descendants, err = d.Descendants(models.NewNodeFQNForJob("d"))
	require.NoError(t, err)
	require.Empty(t, descendants)

	_, err = d.Ancestors(models.NewNodeFQNForJob("ghost"))
	require.Error(t, err)
}

func TestWalkVisitsDependenciesFirst(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}))
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		visited []string
	)
	err = d.Walk(context.Background(), 4, func(ctx context.Context, node Node) error {
		mu.Lock()
		defer mu.Unlock()
		visited = append(visited, node.GetFQN().String())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 4)
	position := make(map[string]int, len(visited))
	for i, name := range visited {
		position[name] = i
	}
	require.Less(t, position["a"], position["b"])
	require.Less(t, position["a"], position["c"])
	require.Less(t, position["b"], position["d"])
	require.Less(t, position["c"], position["d"])
}

func TestWalkStopsOnError(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}))
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		visited []string
	)
	err = d.Walk(context.Background(), 1, func(ctx context.Context, node Node) error {
		mu.Lock()
		defer mu.Unlock()
		visited = append(visited, node.GetFQN().String())
		if node.GetFQN().JobName == "b" {
			return assert.AnError
		}
		return nil
	})
	require.ErrorIs(t, err, assert.AnError)
	require.NotContains(t, visited, "c")
}

func TestDOT(t *testing.T) {
	d, err := NewDAG(newTestNodes(map[models.ResourceName][]models.ResourceName{
		"a": nil,
		"b": {"a"},
	}))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, d.DOT(&buf))
	assert.Contains(t, buf.String(), "digraph")
	assert.Contains(t, buf.String(), "\"a\"")
	assert.Contains(t, buf.String(), "\"b\"")
}

func fqnStrings(nodes []Node) []string {
	var names []string
	for _, node := range nodes {
		names = append(names, node.GetFQN().String())
	}
	return names
}
