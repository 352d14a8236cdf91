package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Graph tracks ownership dependencies between named types. An edge from A to
// B means A owns B, so B must be generated before A.
type Graph struct {
	order []string
	index map[string]int
	edges map[string][]string // node -> dependencies
	mu    sync.RWMutex
}

// CycleError reports the members of a dependency cycle, first member repeated
// at the end.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// NewGraph creates an empty dependency graph
func NewGraph() *Graph {
	return &Graph{
		index: make(map[string]int),
		edges: make(map[string][]string),
	}
}

// AddNode adds a node and its dependencies. Re-adding a node replaces its
// dependencies but keeps its original position.
func (g *Graph) AddNode(name string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[name]; !ok {
		g.index[name] = len(g.order)
		g.order = append(g.order, name)
	}
	g.edges[name] = append([]string(nil), dependencies...)
}

// TopologicalSort returns every node with dependencies first. Among nodes that
// are ready at the same time, insertion order wins, so the result is stable.
// Dependencies on nodes that were never added are ignored.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.order))
	for _, node := range g.order {
		count := 0
		for _, dep := range uniq(g.edges[node]) {
			if _, ok := g.index[dep]; ok {
				count++
			}
		}
		inDegree[node] = count
	}

	// ready holds insertion indexes, kept sorted
	var ready []int
	for _, node := range g.order {
		if inDegree[node] == 0 {
			ready = append(ready, g.index[node])
		}
	}

	result := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		node := g.order[ready[0]]
		ready = ready[1:]
		result = append(result, node)

		for _, other := range g.order {
			if inDegree[other] == 0 {
				continue
			}
			for _, dep := range uniq(g.edges[other]) {
				if dep == node {
					inDegree[other]--
					if inDegree[other] == 0 {
						ready = append(ready, g.index[other])
						sort.Ints(ready)
					}
					break
				}
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, &CycleError{Members: g.findCycle()}
	}
	return result, nil
}

// findCycle returns the first cycle found walking nodes in insertion order.
// Callers must hold the read lock.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(string) []string
	visit = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		for _, dep := range g.edges[node] {
			if _, ok := g.index[dep]; !ok {
				continue
			}
			if onStack[dep] {
				for i, n := range stack {
					if n == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		onStack[node] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, node := range g.order {
		if !visited[node] {
			if cycle := visit(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func uniq(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
