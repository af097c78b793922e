package engine

import (
	"fmt"
	"strings"
)

// Graph is the dependency graph of a package's actions. It is built once at
// load time. Edges run from a dependency to the actions that depend on it.
type Graph struct {
	// order is the declaration order of action keys
	order []string

	// names maps lower-cased keys to declared action names
	names map[string]string

	// adjacencyList maps an action to its dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps an action to its dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of dependencies of each action
	inDegree map[string]int

	// levels groups actions that have no dependency on each other
	levels [][]string
}

func graphKey(name string) string {
	return strings.ToLower(name)
}

// NewGraph builds the graph for actions, rejecting unknown dependency names
// and cycles with a load error.
func NewGraph(actions []*Action) (*Graph, error) {
	g := &Graph{
		names:                make(map[string]string, len(actions)),
		adjacencyList:        make(map[string][]string, len(actions)),
		reverseAdjacencyList: make(map[string][]string, len(actions)),
		inDegree:             make(map[string]int, len(actions)),
	}

	if err := g.initialize(actions); err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	g.computeLevels()
	return g, nil
}

// initialize sets up the internal data structures from the actions.
func (g *Graph) initialize(actions []*Action) error {
	for _, a := range actions {
		key := graphKey(a.Name)
		if _, exists := g.names[key]; exists {
			return NewLoadError(fmt.Sprintf("Action '%s' is declared more than once", a.Name), nil).
				WithCode(ErrCodeDuplicateAction).WithAction(a.Name)
		}
		g.order = append(g.order, key)
		g.names[key] = a.Name
		g.inDegree[key] = 0
	}

	for _, a := range actions {
		key := graphKey(a.Name)
		for _, dep := range a.Dependencies {
			depKey := graphKey(dep)
			if _, exists := g.names[depKey]; !exists {
				return NewLoadError(fmt.Sprintf("Action dependency '%s::%s' is not defined", a.Name, dep), nil).
					WithCode(ErrCodeUnknownDependency).WithAction(a.Name)
			}

			g.adjacencyList[depKey] = append(g.adjacencyList[depKey], key)
			g.reverseAdjacencyList[key] = append(g.reverseAdjacencyList[key], depKey)
			g.inDegree[key]++
		}
	}

	return nil
}

// detectCycles uses depth-first search from every action in declaration
// order and reports the first cycle found.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, key := range g.order {
		if visited[key] {
			continue
		}
		if cycle := g.detectCyclesUtil(key, visited, recStack, nil); cycle != nil {
			names := make([]string, len(cycle))
			for i, k := range cycle {
				names[i] = g.names[k]
			}
			return NewLoadError(fmt.Sprintf("Action dependency cycle detected: %s", formatCycle(names)), nil).
				WithCode(ErrCodeDependencyCycle).
				WithAction(names[0]).
				WithDetail("path", names)
		}
	}

	return nil
}

// detectCyclesUtil follows dependency edges and returns the cycle path when
// it reaches an action already on the stack.
func (g *Graph) detectCyclesUtil(key string, visited, recStack map[string]bool, path []string) []string {
	visited[key] = true
	recStack[key] = true
	path = append(path, key)

	for _, dep := range g.reverseAdjacencyList[key] {
		if !visited[dep] {
			if cycle := g.detectCyclesUtil(dep, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			for i, k := range path {
				if k == dep {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, dep)
				}
			}
		}
	}

	recStack[key] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm. Level 0 holds the
// actions without dependencies; every other action sits one level above its
// deepest dependency. Within a level actions keep declaration order.
func (g *Graph) computeLevels() {
	inDegree := make(map[string]int, len(g.inDegree))
	for k, d := range g.inDegree {
		inDegree[k] = d
	}

	position := make(map[string]int, len(g.order))
	var current []string
	for i, key := range g.order {
		position[key] = i
		if inDegree[key] == 0 {
			current = append(current, key)
		}
	}

	for len(current) > 0 {
		g.levels = append(g.levels, current)

		var next []string
		for _, key := range current {
			for _, dependent := range g.adjacencyList[key] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sortByPosition(next, position)
		current = next
	}
}

func sortByPosition(keys []string, position map[string]int) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && position[keys[j]] < position[keys[j-1]]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

// Levels returns the action names grouped by level.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		for _, key := range level {
			out[i] = append(out[i], g.names[key])
		}
	}
	return out
}

// Dependents returns the names of actions that depend on name.
func (g *Graph) Dependents(name string) []string {
	return g.resolve(g.adjacencyList[graphKey(name)])
}

// Dependencies returns the names of the dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return g.resolve(g.reverseAdjacencyList[graphKey(name)])
}

func (g *Graph) resolve(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.names[k])
	}
	return out
}

// ToDOT generates a DOT format representation of the graph for visualization.
// Edges point from an action to its dependency. Actions that do not break on
// error are drawn dashed.
func (g *Graph) ToDOT(actions []*Action) string {
	breaks := make(map[string]bool, len(actions))
	providers := make(map[string]string, len(actions))
	for _, a := range actions {
		breaks[graphKey(a.Name)] = a.BreakOnError
		providers[graphKey(a.Name)] = a.Provider
	}

	var sb strings.Builder

	sb.WriteString("digraph Package {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, keys := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, key := range keys {
			style := "rounded"
			if !breaks[key] {
				style = "dashed,rounded"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", style=\"%s\"];\n",
				g.names[key], g.names[key], providers[key], style))
		}

		sb.WriteString("  }\n\n")
	}

	for _, key := range g.order {
		for _, dep := range g.reverseAdjacencyList[key] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", g.names[key], g.names[dep]))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
