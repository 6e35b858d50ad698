// Package dependency validates step dependency graphs and orders them for display.
package dependency

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrCyclicDependency indicates the step graph contains a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrDanglingDependency indicates a step depends on a key that does not exist in the version.
	ErrDanglingDependency = errors.New("dangling dependency")

	// ErrDuplicateKey indicates two nodes share the same step key.
	ErrDuplicateKey = errors.New("duplicate step key")
)

// Node is the resolver's view of one step.
type Node struct {
	Key       string
	Order     int
	DependsOn []string
}

// CycleError reports the full cycle path, first key repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// Reference is a single depends_on entry pointing at a missing step.
type Reference struct {
	Step    string `json:"step"`
	Missing string `json:"missing"`
}

// DanglingError lists every unresolved reference.
type DanglingError struct {
	References []Reference
}

func (e *DanglingError) Error() string {
	parts := make([]string, 0, len(e.References))
	for _, ref := range e.References {
		parts = append(parts, fmt.Sprintf("%s -> %s", ref.Step, ref.Missing))
	}

	return fmt.Sprintf("%v: %s", ErrDanglingDependency, strings.Join(parts, ", "))
}

func (e *DanglingError) Unwrap() error {
	return ErrDanglingDependency
}

// Resolve validates the graph and returns the step keys in topological order.
// Ties between steps whose dependencies are satisfied are broken by Order, then Key.
func Resolve(nodes []Node) ([]string, error) {
	if err := Validate(nodes); err != nil {
		return nil, err
	}

	return topologicalOrder(nodes), nil
}

// Validate checks for duplicate keys, dangling references and cycles.
func Validate(nodes []Node) error {
	byKey := make(map[string]Node, len(nodes))
	for _, node := range nodes {
		if _, exists := byKey[node.Key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, node.Key)
		}

		byKey[node.Key] = node
	}

	var dangling []Reference

	for _, node := range sorted(nodes) {
		for _, dep := range node.DependsOn {
			if _, exists := byKey[dep]; !exists {
				dangling = append(dangling, Reference{Step: node.Key, Missing: dep})
			}
		}
	}

	if len(dangling) > 0 {
		return &DanglingError{References: dangling}
	}

	if cycle := findCycle(nodes, byKey); cycle != nil {
		return &CycleError{Cycle: cycle}
	}

	return nil
}

// Dependents returns the reverse adjacency: for every key, the keys that depend on it directly.
func Dependents(nodes []Node) map[string][]string {
	dependents := make(map[string][]string, len(nodes))

	for _, node := range sorted(nodes) {
		for _, dep := range node.DependsOn {
			dependents[dep] = append(dependents[dep], node.Key)
		}
	}

	return dependents
}

const (
	unvisited = iota
	visiting
	visited
)

// findCycle runs a depth-first traversal with an explicit recursion stack.
func findCycle(nodes []Node, byKey map[string]Node) []string {
	state := make(map[string]int, len(nodes))
	stack := make([]string, 0, len(nodes))

	var visit func(key string) []string

	visit = func(key string) []string {
		state[key] = visiting
		stack = append(stack, key)

		for _, dep := range byKey[key].DependsOn {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle := slices.Clone(stack[start:])

				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[key] = visited

		return nil
	}

	for _, node := range sorted(nodes) {
		if state[node.Key] != unvisited {
			continue
		}

		if cycle := visit(node.Key); cycle != nil {
			return cycle
		}
	}

	return nil
}

func topologicalOrder(nodes []Node) []string {
	indegree := make(map[string]int, len(nodes))
	byKey := make(map[string]Node, len(nodes))

	for _, node := range nodes {
		byKey[node.Key] = node
		indegree[node.Key] = len(uniq(node.DependsOn))
	}

	dependents := Dependents(nodes)

	var ready []Node

	for _, node := range nodes {
		if indegree[node.Key] == 0 {
			ready = append(ready, node)
		}
	}

	order := make([]string, 0, len(nodes))

	for len(ready) > 0 {
		slices.SortFunc(ready, compareNodes)
		next := ready[0]
		ready = ready[1:]

		order = append(order, next.Key)

		for _, dependent := range uniq(dependents[next.Key]) {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, byKey[dependent])
			}
		}
	}

	return order
}

func compareNodes(a, b Node) int {
	if c := cmp.Compare(a.Order, b.Order); c != 0 {
		return c
	}

	return cmp.Compare(a.Key, b.Key)
}

func sorted(nodes []Node) []Node {
	out := slices.Clone(nodes)
	slices.SortFunc(out, compareNodes)

	return out
}

func uniq(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, key)
	}

	return out
}
