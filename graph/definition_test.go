package graph

import (
	"context"
	"errors"
	"testing"
)

func noop() Node[testState, testUpdate] {
	return NodeFunc[testState, testUpdate](func(context.Context, testState, Config) (testUpdate, error) {
		return testUpdate{}, nil
	})
}

func TestDefinition_CompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(d *Definition[testState, testUpdate])
	}{
		{
			name:  "no start node",
			build: func(d *Definition[testState, testUpdate]) { _ = d.Add("a", noop()); _ = d.Connect("a", End) },
		},
		{
			name:  "start node missing",
			build: func(d *Definition[testState, testUpdate]) { _ = d.StartAt("ghost") },
		},
		{
			name: "dangling edge target",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.StartAt("a")
				_ = d.Connect("a", "ghost")
			},
		},
		{
			name: "dangling router target",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.StartAt("a")
				_ = d.Route("a", func(testState) string { return End }, End, "ghost")
			},
		},
		{
			name: "unreachable node",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.Add("island", noop())
				_ = d.StartAt("a")
				_ = d.Connect("a", End)
				_ = d.Connect("island", End)
			},
		},
		{
			name: "node without outgoing edge",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.Add("b", noop())
				_ = d.StartAt("a")
				_ = d.Connect("a", "b")
			},
		},
		{
			name: "two fixed edges",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.Add("b", noop())
				_ = d.StartAt("a")
				_ = d.Connect("a", "b")
				_ = d.Connect("a", End)
				_ = d.Connect("b", End)
			},
		},
		{
			name: "router node with fixed edge",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.StartAt("a")
				_ = d.Route("a", func(testState) string { return End }, End)
				_ = d.Connect("a", End)
			},
		},
		{
			name: "unknown interrupt point",
			build: func(d *Definition[testState, testUpdate]) {
				_ = d.Add("a", noop())
				_ = d.StartAt("a")
				_ = d.Connect("a", End)
				d.InterruptAfter("ghost")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDefinition[testState, testUpdate]()
			tt.build(d)
			g, err := d.Compile()
			if err == nil {
				t.Fatalf("Compile succeeded, want InvalidGraphError (graph %v)", g.Nodes())
			}
			var ige *InvalidGraphError
			if !errors.As(err, &ige) {
				t.Fatalf("error %T is not *InvalidGraphError: %v", err, err)
			}
			if !errors.Is(err, ErrInvalidGraph) {
				t.Error("errors.Is(err, ErrInvalidGraph) = false")
			}
		})
	}
}

func TestDefinition_AddErrors(t *testing.T) {
	d := NewDefinition[testState, testUpdate]()
	mustOK(t, d.Add("a", noop()))

	for name, err := range map[string]error{
		"duplicate": d.Add("a", noop()),
		"empty":     d.Add("", noop()),
		"reserved":  d.Add(End, noop()),
		"nil node":  d.Add("b", nil),
		"second router": func() error {
			_ = d.Route("a", routeDone, End)
			return d.Route("a", routeDone, End)
		}(),
	} {
		if !errors.Is(err, ErrInvalidGraph) {
			t.Errorf("%s: error = %v, want ErrInvalidGraph", name, err)
		}
	}
}

func TestGraph_Introspection(t *testing.T) {
	g, _ := loopGraph(t, 1)

	if g.Start() != "prepare" {
		t.Errorf("Start() = %q", g.Start())
	}
	if g.RouterNode() != "check" {
		t.Errorf("RouterNode() = %q", g.RouterNode())
	}
	if got := g.InterruptPoints(); len(got) != 1 || got[0] != "check" {
		t.Errorf("InterruptPoints() = %v", got)
	}
	if !g.IsInterrupt("check") || g.IsInterrupt("work") {
		t.Error("IsInterrupt mismatch")
	}
	if got := g.Nodes(); len(got) != 3 || got[0] != "prepare" {
		t.Errorf("Nodes() = %v", got)
	}
}

func TestGraph_Successor(t *testing.T) {
	g, _ := loopGraph(t, 1)

	tests := []struct {
		name  string
		from  string
		state testState
		want  string
	}{
		{"fixed edge", "prepare", testState{}, "work"},
		{"router not done", "check", testState{Done: false}, "work"},
		{"router done", "check", testState{Done: true}, End},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Successor(tt.from, tt.state)
			if err != nil {
				t.Fatalf("Successor failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Successor(%s) = %q, want %q", tt.from, got, tt.want)
			}
		})
	}
}

func TestGraph_RouterUndeclaredTarget(t *testing.T) {
	d := NewDefinition[testState, testUpdate]()
	mustOK(t, d.Add("a", noop()))
	mustOK(t, d.Add("b", noop()))
	mustOK(t, d.StartAt("a"))
	mustOK(t, d.Connect("b", End))
	mustOK(t, d.Route("a", func(testState) string { return "elsewhere" }, "b", End))
	g, err := d.Compile()
	mustOK(t, err)

	if _, err := g.Successor("a", testState{}); !errors.Is(err, ErrInvalidGraph) {
		t.Errorf("Successor error = %v, want ErrInvalidGraph", err)
	}
}
