package balkan

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gustycube/balkansim/internal/graph"
)

func build(t *testing.T, nodes []string, edges ...[2]string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func complete(t *testing.T, n int) *graph.Graph {
	t.Helper()
	var nodes []string
	var edges [][2]string
	for i := 0; i < n; i++ {
		nodes = append(nodes, fmt.Sprintf("N%d", i))
		for j := 0; j < i; j++ {
			edges = append(edges, [2]string{nodes[j], nodes[i]})
		}
	}
	return build(t, nodes, edges...)
}

func star(t *testing.T, leaves int) *graph.Graph {
	t.Helper()
	nodes := []string{"hub"}
	var edges [][2]string
	for i := 0; i < leaves; i++ {
		leaf := fmt.Sprintf("L%d", i)
		nodes = append(nodes, leaf)
		edges = append(edges, [2]string{"hub", leaf})
	}
	return build(t, nodes, edges...)
}

func TestAbsolute(t *testing.T) {
	tests := []struct {
		name string
		g    func(t *testing.T) *graph.Graph
		want float64
	}{
		{"empty", func(t *testing.T) *graph.Graph { return graph.New() }, 0},
		{"edgeless", func(t *testing.T) *graph.Graph { return build(t, []string{"A", "B"}) }, 1},
		{"complete 5", func(t *testing.T) *graph.Graph { return complete(t, 5) }, 0},
		{"complete 12", func(t *testing.T) *graph.Graph { return complete(t, 12) }, 0},
		{"path of 4", func(t *testing.T) *graph.Graph {
			return build(t, []string{"A", "B", "C", "D"}, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"})
		}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Absolute(tt.g(t)); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAbsolute_StarApproachesFullFragmentation(t *testing.T) {
	for _, leaves := range []int{9, 99, 999} {
		n := float64(leaves + 1)
		got := Absolute(star(t, leaves))
		if math.Abs(got-(1-2/n)) > 1e-12 {
			t.Errorf("star with %d leaves: expected %v, got %v", leaves, 1-2/n, got)
		}
		if math.Abs(got-(n-1)/n) > 1/n+1e-12 {
			t.Errorf("star with %d leaves: %v is not within 1/n of (n-1)/n", leaves, got)
		}
	}
}

func TestRelative(t *testing.T) {
	tests := []struct {
		name   string
		g      func(t *testing.T) *graph.Graph
		subset []string
		want   float64
	}{
		{
			name:   "authority hub captures every leaf",
			g:      func(t *testing.T) *graph.Graph { return star(t, 4) },
			subset: []string{"hub"},
			want:   4.0 / 5.0,
		},
		{
			name:   "single member in a biconnected graph",
			g:      func(t *testing.T) *graph.Graph { return complete(t, 5) },
			subset: []string{"N0"},
			want:   4.0 / 5.0,
		},
		{
			name:   "two members share a component",
			g:      func(t *testing.T) *graph.Graph { return complete(t, 5) },
			subset: []string{"N0", "N1"},
			want:   0,
		},
		{
			// U1-C1-U2-C2-U3: U2 sits between both authorities.
			name: "alternating path",
			g: func(t *testing.T) *graph.Graph {
				return build(t, []string{"U1", "C1", "U2", "C2", "U3"},
					[2]string{"U1", "C1"}, [2]string{"C1", "U2"}, [2]string{"U2", "C2"}, [2]string{"C2", "U3"})
			},
			subset: []string{"C1", "C2"},
			want:   2.0 / 5.0,
		},
		{
			name:   "empty graph",
			g:      func(t *testing.T) *graph.Graph { return graph.New() },
			subset: nil,
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Relative(tt.g(t), tt.subset)
			if err != nil {
				t.Fatalf("Relative: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRelative_UncapturedComponent(t *testing.T) {
	g := build(t, []string{"A", "B", "C", "D"}, [2]string{"A", "B"}, [2]string{"C", "D"})

	_, err := Relative(g, []string{"A"})
	if !errors.Is(err, ErrUncapturedComponent) {
		t.Errorf("expected ErrUncapturedComponent, got %v", err)
	}

	_, err = Relative(complete(t, 3), nil)
	if !errors.Is(err, ErrUncapturedComponent) {
		t.Errorf("expected ErrUncapturedComponent for an empty subset, got %v", err)
	}
}

func TestRelative_DoesNotMutateGraph(t *testing.T) {
	g := star(t, 3)
	before := g.Edges()
	if _, err := Relative(g, []string{"hub"}); err != nil {
		t.Fatal(err)
	}
	if g.Len() != 4 || len(g.Edges()) != len(before) {
		t.Errorf("graph changed:\n%s", g)
	}
}
