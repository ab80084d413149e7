// Package graph exports and maintains the module dependency graph.
//
// The edge set is not kept acyclic: mutual recommended edges are
// legitimate. Every traversal therefore runs breadth-first over an arena of
// visited ids with an explicit depth bound, so it emits each module once
// and terminates on any edge set.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/HendryAvila/modvault/internal/apperr"
	"github.com/HendryAvila/modvault/internal/store"
	"github.com/HendryAvila/modvault/internal/vault"
	"gopkg.in/yaml.v3"
)

// Depth bounds for Export.
const (
	DefaultMaxDepth = 10
	MaxDepthLimit   = 25
)

// RefScheme prefixes canonical fetch references.
const RefScheme = "modvault://modules/"

// FetchRef returns the canonical fetch reference for a module slug.
func FetchRef(slug string) string {
	return RefScheme + slug
}

// Source is the read side of the store a traversal needs.
type Source interface {
	GetModule(ctx context.Context, id string) (*vault.Module, error)
	Dependencies(ctx context.Context, moduleID string) ([]store.Edge, error)
	ModulesByID(ctx context.Context, ids []string) (map[string]*vault.Module, error)
}

// Node is one module in an exported tree.
type Node struct {
	ID                  string               `json:"id" yaml:"id"`
	Slug                string               `json:"slug" yaml:"slug"`
	Title               string               `json:"title" yaml:"title"`
	ModuleType          vault.ModuleType     `json:"module_type" yaml:"module_type"`
	Domain              vault.Domain         `json:"domain" yaml:"domain"`
	Language            string               `json:"language,omitempty" yaml:"language,omitempty"`
	Depth               int                  `json:"depth" yaml:"depth"`
	ImplementationOrder int                  `json:"implementation_order" yaml:"implementation_order"`
	DependencyType      vault.DependencyType `json:"dependency_type,omitempty" yaml:"dependency_type,omitempty"`
	RequiredBy          string               `json:"required_by,omitempty" yaml:"required_by,omitempty"`
	Deprecated          bool                 `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
	UsageHint           string               `json:"usage_hint,omitempty" yaml:"usage_hint,omitempty"`
	Code                string               `json:"code,omitempty" yaml:"code,omitempty"`
	Schema              string               `json:"schema,omitempty" yaml:"schema,omitempty"`
	Ref                 string               `json:"ref" yaml:"ref"`
}

// TreeEdge is a traversed edge between two emitted nodes.
type TreeEdge struct {
	From           string               `json:"from" yaml:"from"`
	To             string               `json:"to" yaml:"to"`
	DependencyType vault.DependencyType `json:"dependency_type" yaml:"dependency_type"`
}

// Tree is the transitive closure of a root module.
type Tree struct {
	RootID   string     `json:"root_id" yaml:"root_id"`
	MaxDepth int        `json:"max_depth" yaml:"max_depth"`
	Nodes    []Node     `json:"nodes" yaml:"nodes"`
	Edges    []TreeEdge `json:"edges" yaml:"edges"`
	// Truncated is set when the depth bound cut off unvisited modules.
	Truncated bool `json:"truncated" yaml:"truncated"`
	// Hidden counts reachable modules the viewer may not read.
	Hidden int `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	// Steps counts edges examined.
	Steps int `json:"steps" yaml:"-"`
}

type visit struct {
	id    string
	depth int
	via   string
	dtype vault.DependencyType
}

// Walk computes the closure of rootID as seen by viewer. Each module is
// emitted once, at its shallowest depth, ordered by depth, then
// implementation order, then title.
func Walk(ctx context.Context, src Source, viewer, rootID string, maxDepth int) (*Tree, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxDepth > MaxDepthLimit {
		maxDepth = MaxDepthLimit
	}

	root, err := src.GetModule(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if !root.VisibleTo(viewer) {
		return nil, apperr.NotFoundf("module %q not found", rootID)
	}

	tree := &Tree{RootID: root.ID, MaxDepth: maxDepth, Nodes: []Node{}, Edges: []TreeEdge{}}

	// Arena: order holds visits in discovery order, index maps id → slot.
	order := []visit{{id: root.ID}}
	index := map[string]int{root.ID: 0}
	hidden := map[string]bool{}

	for head := 0; head < len(order); head++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := order[head]
		edges, err := src.Dependencies(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("loading dependencies of %s: %w", cur.id, err)
		}
		for _, e := range edges {
			tree.Steps++
			if e.TargetVisibility == vault.VisibilityPrivate && e.TargetOwner != viewer {
				hidden[e.DependsOnID] = true
				continue
			}
			if _, seen := index[e.DependsOnID]; seen {
				tree.Edges = append(tree.Edges, TreeEdge{From: cur.id, To: e.DependsOnID, DependencyType: e.DependencyType})
				continue
			}
			if cur.depth >= maxDepth {
				tree.Truncated = true
				continue
			}
			index[e.DependsOnID] = len(order)
			order = append(order, visit{id: e.DependsOnID, depth: cur.depth + 1, via: cur.id, dtype: e.DependencyType})
			tree.Edges = append(tree.Edges, TreeEdge{From: cur.id, To: e.DependsOnID, DependencyType: e.DependencyType})
		}
	}
	tree.Hidden = len(hidden)

	ids := make([]string, len(order))
	for i, v := range order {
		ids[i] = v.id
	}
	mods, err := src.ModulesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading tree modules: %w", err)
	}
	for _, v := range order {
		m, ok := mods[v.id]
		if !ok {
			continue
		}
		tree.Nodes = append(tree.Nodes, newNode(m, v))
	}
	sort.SliceStable(tree.Nodes, func(i, j int) bool {
		a, b := tree.Nodes[i], tree.Nodes[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.ImplementationOrder != b.ImplementationOrder {
			return a.ImplementationOrder < b.ImplementationOrder
		}
		return a.Title < b.Title
	})
	return tree, nil
}

func newNode(m *vault.Module, v visit) Node {
	n := Node{
		ID:                  m.ID,
		Slug:                m.Slug,
		Title:               m.Title,
		ModuleType:          m.ModuleType,
		Domain:              m.Domain,
		Language:            m.Language,
		Depth:               v.depth,
		ImplementationOrder: m.ImplementationOrder,
		DependencyType:      v.dtype,
		RequiredBy:          v.via,
		Deprecated:          m.ValidationStatus == vault.StatusDeprecated,
		UsageHint:           m.UsageHint,
		Code:                m.Code,
		Ref:                 FetchRef(m.Slug),
	}
	if m.ModuleType == vault.TypeSchemaMigration {
		n.Schema = m.Code
	}
	return n
}

// Reachable reports whether to can be reached from from by following
// dependency edges. It visits each module at most once.
func Reachable(ctx context.Context, src Source, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}
	queue := []string{from}
	seen := map[string]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := src.Dependencies(ctx, cur)
		if err != nil {
			return false, err
		}
		for _, e := range edges {
			if e.DependsOnID == to {
				return true, nil
			}
			if !seen[e.DependsOnID] {
				seen[e.DependsOnID] = true
				queue = append(queue, e.DependsOnID)
			}
		}
	}
	return false, nil
}

// RenderYAML renders a tree as a YAML bundle.
func RenderYAML(t *Tree) (string, error) {
	out, err := yaml.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("rendering tree: %w", err)
	}
	return string(out), nil
}
