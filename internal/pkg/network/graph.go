package network

import (
	"errors"
	"fmt"
	"sort"
)

// Graph is the bus connectivity view used for island detection.
type Graph struct {
	adjacencyList map[int][]int
}

// NewGraph returns an empty connectivity graph.
func NewGraph() *Graph {
	return &Graph{adjacencyList: make(map[int][]int)}
}

// AddNode registers a bus index in the graph.
func (g *Graph) AddNode(n int) error {
	if _, exists := g.adjacencyList[n]; exists {
		err := fmt.Sprintf("node %d already exists in graph.", n)
		return errors.New(err)
	}
	g.adjacencyList[n] = make([]int, 0)
	return nil
}

// AddEdge links two registered bus indices in both directions.
func (g *Graph) AddEdge(n1 int, n2 int) error {
	if _, exists := g.adjacencyList[n1]; !exists {
		err := fmt.Sprintf("start node %d does not exist in graph.", n1)
		return errors.New(err)
	}
	if _, exists := g.adjacencyList[n2]; !exists {
		err := fmt.Sprintf("end node %d does not exist in graph.", n2)
		return errors.New(err)
	}
	g.adjacencyList[n1] = append(g.adjacencyList[n1], n2)
	g.adjacencyList[n2] = append(g.adjacencyList[n2], n1)
	return nil
}

// Edges returns the neighbors of a bus index.
func (g *Graph) Edges(n int) []int {
	if edges, exists := g.adjacencyList[n]; exists {
		return edges
	}
	return make([]int, 0)
}

// Degree returns the number of neighbors of a bus index.
func (g *Graph) Degree(n int) int {
	return len(g.adjacencyList[n])
}

// Components returns the connected components as sorted index slices,
// ordered by their smallest member.
func (g *Graph) Components() [][]int {
	visited := make(map[int]bool, len(g.adjacencyList))

	nodes := make([]int, 0, len(g.adjacencyList))
	for n := range g.adjacencyList {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	components := make([][]int, 0)
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		component := make([]int, 0)
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			component = append(component, n)
			for _, next := range g.adjacencyList[n] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}

// Reachable walks the graph from the given roots and reports every index
// reached.
func (g *Graph) Reachable(roots []int) map[int]bool {
	visited := make(map[int]bool)
	queue := make([]int, 0, len(roots))
	for _, r := range roots {
		if _, exists := g.adjacencyList[r]; exists && !visited[r] {
			visited[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range g.adjacencyList[n] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// ConnectivityGraph builds the graph over every bus and branch of the
// network.
func (n *Network) ConnectivityGraph() *Graph {
	g := NewGraph()
	for i := range n.Buses {
		_ = g.AddNode(i)
	}
	for _, br := range n.Branches {
		_ = g.AddEdge(br.From, br.To)
	}
	return g
}
