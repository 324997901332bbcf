// Package dag builds a directed acyclic graph from the dependency
// declarations of a set of nodes and provides ordered traversal over it.
package dag

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorci/conveyor/common/gerror"
	"github.com/conveyorci/conveyor/common/models"
)

// Node represents a node in the DAG.
type Node interface {
	// GetFQN returns the unique name/identifier for this node.
	GetFQN() models.NodeFQN
	// GetFQNDependencies returns a list of nodes by FQN that this node depends on.
	GetFQNDependencies() []models.NodeFQN
}

// DAG represents a directed acyclic graph useful for expressing dependencies.
type DAG struct {
	graph      graph.Graph[string, Node]
	nodesByFQN map[models.NodeFQN]Node
}

func nodeHash(node Node) string {
	return node.GetFQN().String()
}

// NewDAG creates a new DAG containing the specified nodes. Edges run from a
// dependency to its dependents. Unknown dependencies and cycles are errors.
func NewDAG(nodes []Node) (*DAG, error) {
	m := &DAG{
		graph:      graph.New(nodeHash, graph.Directed(), graph.PreventCycles()),
		nodesByFQN: make(map[models.NodeFQN]Node, len(nodes)),
	}
	for _, node := range nodes {
		if _, ok := m.nodesByFQN[node.GetFQN()]; ok {
			return nil, errors.Errorf("error duplicate node: %s", node.GetFQN())
		}
		m.nodesByFQN[node.GetFQN()] = node
		err := m.graph.AddVertex(node)
		if err != nil {
			return nil, errors.Wrapf(err, "error adding node %s", node.GetFQN())
		}
	}
	for _, node := range nodes {
		for _, dependency := range node.GetFQNDependencies() {
			if _, ok := m.nodesByFQN[dependency]; !ok {
				return nil, errors.Errorf("error node %s depends on unknown node %s", node.GetFQN(), dependency)
			}
			err := m.graph.AddEdge(dependency.String(), node.GetFQN().String())
			if err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, gerror.NewErrCircularDependency(
						fmt.Sprintf("Dependency of %q on %q creates a cycle", node.GetFQN(), dependency), err)
				}
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				return nil, errors.Wrapf(err, "error adding dependency of %s on %s", node.GetFQN(), dependency)
			}
		}
	}
	return m, nil
}

// Get returns the node with the given FQN, or nil.
func (m *DAG) Get(fqn models.NodeFQN) Node {
	return m.nodesByFQN[fqn]
}

// Nodes returns all nodes in topological order: every node appears after all
// of its dependencies. Ties are broken by name so the order is deterministic.
func (m *DAG) Nodes() ([]Node, error) {
	hashes, err := graph.StableTopologicalSort(m.graph, func(a, b string) bool {
		return a < b
	})
	if err != nil {
		return nil, errors.Wrap(err, "error sorting graph")
	}
	nodes := make([]Node, len(hashes))
	for i, hash := range hashes {
		node, err := m.graph.Vertex(hash)
		if err != nil {
			return nil, errors.Wrapf(err, "error resolving node %s", hash)
		}
		nodes[i] = node
	}
	return nodes, nil
}

// Ancestors returns the transitive dependencies of the node with the given
// FQN, in no particular order.
func (m *DAG) Ancestors(fqn models.NodeFQN) ([]Node, error) {
	predecessors, err := m.graph.PredecessorMap()
	if err != nil {
		return nil, errors.Wrap(err, "error reading graph edges")
	}
	return m.collect(fqn, predecessors)
}

// Descendants returns the transitive dependents of the node with the given
// FQN, in no particular order.
func (m *DAG) Descendants(fqn models.NodeFQN) ([]Node, error) {
	adjacency, err := m.graph.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, "error reading graph edges")
	}
	return m.collect(fqn, adjacency)
}

func (m *DAG) collect(fqn models.NodeFQN, edges map[string]map[string]graph.Edge[string]) ([]Node, error) {
	if _, ok := m.nodesByFQN[fqn]; !ok {
		return nil, errors.Errorf("error unknown node: %s", fqn)
	}
	var (
		found   []Node
		visited = map[string]bool{fqn.String(): true}
		queue   = []string{fqn.String()}
	)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range edges[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			node, err := m.graph.Vertex(next)
			if err != nil {
				return nil, errors.Wrapf(err, "error resolving node %s", next)
			}
			found = append(found, node)
			queue = append(queue, next)
		}
	}
	return found, nil
}

// Walk visits each node once after all of that node's dependencies have been
// visited, calling back with up to parallel concurrent invocations. The first
// callback error cancels the walk and is returned; nodes whose dependencies
// were not visited are never called back.
func (m *DAG) Walk(ctx context.Context, parallel int, callback func(ctx context.Context, node Node) error) error {
	if parallel < 1 {
		parallel = 1
	}
	nodes, err := m.Nodes()
	if err != nil {
		return err
	}
	predecessors, err := m.graph.PredecessorMap()
	if err != nil {
		return errors.Wrap(err, "error reading graph edges")
	}

	doneByHash := make(map[string]chan struct{}, len(nodes))
	for _, node := range nodes {
		doneByHash[nodeHash(node)] = make(chan struct{})
	}
	semaphore := make(chan struct{}, parallel)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		group.Go(func() error {
			for hash := range predecessors[nodeHash(node)] {
				select {
				case <-doneByHash[hash]:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			}
			select {
			case semaphore <- struct{}{}:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			defer func() { <-semaphore }()
			err := callback(groupCtx, node)
			if err != nil {
				return err
			}
			close(doneByHash[nodeHash(node)])
			return nil
		})
	}
	return group.Wait()
}

// DOT writes a Graphviz DOT rendering of the graph.
func (m *DAG) DOT(w io.Writer) error {
	err := draw.DOT(m.graph, w)
	if err != nil {
		return errors.Wrap(err, "error rendering graph")
	}
	return nil
}

// SortFQNs sorts a list of FQNs by name, for stable output.
func SortFQNs(fqns []models.NodeFQN) {
	sort.Slice(fqns, func(i, j int) bool {
		return fqns[i].String() < fqns[j].String()
	})
}
