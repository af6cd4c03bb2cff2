package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/solvegraph/graph/emit"
	"github.com/dshills/solvegraph/graph/store"
)

func TestEngine_StartHaltsAtInterrupt(t *testing.T) {
	ctx := context.Background()
	engine, nodes, _ := newLoopEngine(t, 2)

	res, err := engine.Start(ctx, testState{}, Config{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Halt != HaltInterrupted {
		t.Errorf("Halt = %q, want interrupted", res.Halt)
	}
	// seq 0 input, 1 prepare, 2 work, 3 check
	if res.Seq != 3 {
		t.Errorf("Seq = %d, want 3", res.Seq)
	}
	if res.Next != "work" {
		t.Errorf("Next = %q, want work", res.Next)
	}
	if res.State.Count != 1 || res.State.Done {
		t.Errorf("State = %+v", res.State)
	}
	if nodes["check"].calls.Load() != 1 {
		t.Errorf("check ran %d times, want 1", nodes["check"].calls.Load())
	}
}

func TestEngine_ResumeToTerminal(t *testing.T) {
	ctx := context.Background()
	engine, nodes, _ := newLoopEngine(t, 2)
	cfg := Config{ThreadID: "t1"}

	if _, err := engine.Start(ctx, testState{}, cfg); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := engine.Resume(ctx, cfg)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if res.Halt != HaltTerminal || res.Next != End {
		t.Errorf("result = %+v, want terminal", res)
	}
	if res.Seq != 5 || !res.State.Done {
		t.Errorf("Seq = %d Done = %v", res.Seq, res.State.Done)
	}

	t.Run("resume of a finished thread runs nothing", func(t *testing.T) {
		before := nodes["work"].calls.Load()
		again, err := engine.Resume(ctx, cfg)
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if again.Halt != HaltTerminal || again.Seq != 5 {
			t.Errorf("again = %+v", again)
		}
		if nodes["work"].calls.Load() != before {
			t.Error("node ran on a terminal thread")
		}
	})
}

func TestEngine_ResumeWithInjectedUpdate(t *testing.T) {
	ctx := context.Background()
	engine, nodes, _ := newLoopEngine(t, 100)
	cfg := Config{ThreadID: "t1"}

	first, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)

	calls := func() int32 {
		var n int32
		for _, node := range nodes {
			n += node.calls.Load()
		}
		return n
	}
	before := calls()

	_, err = engine.Resume(ctx, cfg, testUpdate{Append: []string{"feedback"}})
	mustOK(t, err)

	injected, err := engine.Checkpoint(ctx, "t1", first.Seq+1)
	mustOK(t, err)
	if injected.Source != store.SourceUpdate {
		t.Errorf("Source = %q, want %q", injected.Source, store.SourceUpdate)
	}
	if injected.Next != first.Next {
		t.Errorf("pending node changed: %q -> %q", first.Next, injected.Next)
	}
	if got := len(injected.State.Log); got != len(first.State.Log)+1 {
		t.Errorf("log grew by %d, want 1", got-len(first.State.Log))
	}
	if injected.State.Log[len(injected.State.Log)-1] != "feedback" {
		t.Errorf("last log entry = %q", injected.State.Log[len(injected.State.Log)-1])
	}
	// work + check ran after the injection, nothing ran for it.
	if calls()-before != 2 {
		t.Errorf("nodes ran %d times, want 2", calls()-before)
	}
}

func TestEngine_ResumeEmptyUpdateWritesNothing(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 100)
	cfg := Config{ThreadID: "t1"}

	first, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)
	_, err = engine.Resume(ctx, cfg, testUpdate{})
	mustOK(t, err)

	next, err := engine.Checkpoint(ctx, "t1", first.Seq+1)
	mustOK(t, err)
	if next.Source != "work" {
		t.Errorf("Source = %q, want work (no injected checkpoint)", next.Source)
	}
}

func TestEngine_UnknownThread(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 1)

	checks := map[string]error{}
	_, checks["Resume"] = engine.Resume(ctx, Config{ThreadID: "ghost"})
	_, checks["History"] = engine.History(ctx, "ghost")
	_, checks["Latest"] = engine.Latest(ctx, "ghost")
	_, checks["Checkpoint"] = engine.Checkpoint(ctx, "ghost", 0)

	for op, err := range checks {
		var ute *UnknownThreadError
		if !errors.As(err, &ute) {
			t.Errorf("%s: error = %v, want *UnknownThreadError", op, err)
			continue
		}
		if ute.ThreadID != "ghost" || !errors.Is(err, ErrUnknownThread) {
			t.Errorf("%s: unexpected error %v", op, err)
		}
	}
}

func TestEngine_StartTwice(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 1)
	cfg := Config{ThreadID: "t1"}

	_, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)
	if _, err := engine.Start(ctx, testState{}, cfg); !errors.Is(err, ErrThreadExists) {
		t.Errorf("second Start error = %v, want ErrThreadExists", err)
	}
}

func TestEngine_MissingThreadID(t *testing.T) {
	engine, _, _ := newLoopEngine(t, 1)
	_, err := engine.Start(context.Background(), testState{}, Config{})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "MISSING_THREAD_ID" {
		t.Errorf("error = %v, want MISSING_THREAD_ID", err)
	}
}

func TestEngine_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 2)
	cfg := Config{ThreadID: "t1"}

	_, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)
	_, err = engine.Resume(ctx, cfg)
	mustOK(t, err)

	hist, err := engine.History(ctx, "t1")
	mustOK(t, err)

	wantSources := []string{"check", "work", "check", "work", "prepare", store.SourceInput}
	if len(hist) != len(wantSources) {
		t.Fatalf("len(history) = %d, want %d", len(hist), len(wantSources))
	}
	for i, cp := range hist {
		if cp.Seq != len(hist)-1-i {
			t.Errorf("history[%d].Seq = %d", i, cp.Seq)
		}
		if cp.Source != wantSources[i] {
			t.Errorf("history[%d].Source = %q, want %q", i, cp.Source, wantSources[i])
		}
	}

	latest, err := engine.Latest(ctx, "t1")
	mustOK(t, err)
	if latest.Seq != hist[0].Seq || latest.Digest != hist[0].Digest {
		t.Errorf("Latest = %d/%s, history[0] = %d/%s", latest.Seq, latest.Digest, hist[0].Seq, hist[0].Digest)
	}
}

func TestEngine_LogMonotonic(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 5)
	cfg := Config{ThreadID: "t1"}

	_, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)
	for i := 0; i < 3; i++ {
		_, err := engine.Resume(ctx, cfg, testUpdate{Append: []string{"note"}})
		mustOK(t, err)
	}

	hist, err := engine.History(ctx, "t1")
	mustOK(t, err)
	for i := len(hist) - 1; i > 0; i-- {
		older, newer := hist[i], hist[i-1]
		if len(newer.State.Log) < len(older.State.Log) {
			t.Errorf("log shrank between seq %d and %d", older.Seq, newer.Seq)
		}
		if older.State.Done && !newer.State.Done {
			t.Errorf("done flag reverted at seq %d", newer.Seq)
		}
	}
}

func TestEngine_NodeErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("generation service unavailable")

	fail := true
	def := NewDefinition[testState, testUpdate]()
	mustOK(t, def.Add("flaky", NodeFunc[testState, testUpdate](func(context.Context, testState, Config) (testUpdate, error) {
		if fail {
			return testUpdate{}, boom
		}
		return testUpdate{Append: []string{"ok"}}, nil
	})))
	mustOK(t, def.StartAt("flaky"))
	mustOK(t, def.Connect("flaky", End))
	g, err := def.Compile()
	mustOK(t, err)

	buf := emit.NewBufferedEmitter()
	engine := New(g, testReducer, store.NewMemStore[testState](), WithEmitter(buf))
	cfg := Config{ThreadID: "t1"}

	_, err = engine.Start(ctx, testState{}, cfg)
	var ne *NodeError
	if !errors.As(err, &ne) || ne.NodeID != "flaky" || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want NodeError wrapping cause", err)
	}

	latest, err := engine.Latest(ctx, "t1")
	mustOK(t, err)
	if latest.Seq != 0 || latest.Next != "flaky" {
		t.Errorf("latest = seq %d next %q, want seq 0 pending flaky", latest.Seq, latest.Next)
	}
	if got := buf.GetHistoryWithFilter("t1", emit.HistoryFilter{Msg: emit.MsgNodeFailed}); len(got) != 1 {
		t.Errorf("node failed events = %d, want 1", len(got))
	}

	// Retrying is the caller's job: Resume with no update.
	fail = false
	res, err := engine.Resume(ctx, cfg)
	mustOK(t, err)
	if res.Halt != HaltTerminal || res.Seq != 1 {
		t.Errorf("retry result = %+v", res)
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	def := NewDefinition[testState, testUpdate]()
	mustOK(t, def.Add("spin", NodeFunc[testState, testUpdate](func(context.Context, testState, Config) (testUpdate, error) {
		return testUpdate{Inc: 1}, nil
	})))
	mustOK(t, def.StartAt("spin"))
	mustOK(t, def.Connect("spin", "spin"))
	g, err := def.Compile()
	mustOK(t, err)

	engine := New(g, testReducer, store.NewMemStore[testState](), WithMaxSteps(5))
	_, err = engine.Start(context.Background(), testState{}, Config{ThreadID: "t"})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("error = %v, want ErrMaxStepsExceeded", err)
	}
	latest, _ := engine.Latest(context.Background(), "t")
	if latest.State.Count != 5 {
		t.Errorf("Count = %d, want 5 steps persisted", latest.State.Count)
	}
}

func TestEngine_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine, nodes, _ := newLoopEngine(t, 10)

	nodes["prepare"].fn = func(testState) testUpdate {
		cancel()
		return testUpdate{Append: []string{"prepare"}}
	}
	_, err := engine.Start(ctx, testState{}, Config{ThreadID: "t1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	// The completed step is kept; nothing after it ran.
	latest, err := engine.Latest(context.Background(), "t1")
	mustOK(t, err)
	if latest.Source != "prepare" || nodes["work"].calls.Load() != 0 {
		t.Errorf("latest source = %q, work calls = %d", latest.Source, nodes["work"].calls.Load())
	}
}

func TestEngine_ForkReproducesNextCheckpoint(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newLoopEngine(t, 3)
	cfg := Config{ThreadID: "origin"}

	_, err := engine.Start(ctx, testState{}, cfg)
	mustOK(t, err)
	_, err = engine.Resume(ctx, cfg)
	mustOK(t, err)

	for n := 0; n < 5; n++ {
		want, err := engine.Checkpoint(ctx, "origin", n+1)
		mustOK(t, err)

		forkID := "fork-" + string(rune('a'+n))
		forked, err := engine.Fork(ctx, "origin", n, forkID)
		mustOK(t, err)
		if forked.Seq != 0 || forked.Source != store.SourceFork {
			t.Fatalf("forked checkpoint = %+v", forked)
		}

		// The fork halts at the next interrupt; its checkpoint 1 must match
		// origin's checkpoint n+1.
		_, err = engine.Resume(ctx, Config{ThreadID: forkID})
		mustOK(t, err)
		got, err := engine.Checkpoint(ctx, forkID, 1)
		mustOK(t, err)
		if got.Digest != want.Digest || got.Next != want.Next {
			t.Errorf("from checkpoint %d: fork digest %s next %s, origin %s next %s",
				n, got.Digest, got.Next, want.Digest, want.Next)
		}
	}

	if _, err := engine.Fork(ctx, "origin", 0, "fork-a"); !errors.Is(err, ErrThreadExists) {
		t.Errorf("fork onto existing thread error = %v", err)
	}
}

func TestEngine_Events(t *testing.T) {
	ctx := context.Background()
	buf := emit.NewBufferedEmitter()
	engine, _, _ := newLoopEngine(t, 5, WithEmitter(buf))

	_, err := engine.Start(ctx, testState{}, Config{ThreadID: "t1"})
	mustOK(t, err)

	events := buf.GetHistory("t1")
	want := []struct{ msg, node string }{
		{emit.MsgThreadStarted, ""},
		{emit.MsgNodeCompleted, "prepare"},
		{emit.MsgNodeCompleted, "work"},
		{emit.MsgNodeCompleted, "check"},
		{emit.MsgHalted, ""},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Msg != w.msg || events[i].NodeID != w.node {
			t.Errorf("event %d = %s/%s, want %s/%s", i, events[i].Msg, events[i].NodeID, w.msg, w.node)
		}
	}
	if events[4].Meta["halt"] != string(HaltInterrupted) {
		t.Errorf("halt meta = %v", events[4].Meta["halt"])
	}
}

type fakeLocker struct {
	locks, unlocks int
}

func (f *fakeLocker) Lock(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, error) {
	f.locks++
	return func(context.Context) error {
		f.unlocks++
		return nil
	}, nil
}

func TestEngine_DistributedLocker(t *testing.T) {
	locker := &fakeLocker{}
	engine, _, _ := newLoopEngine(t, 5, WithLocker(locker, time.Second))

	_, err := engine.Start(context.Background(), testState{}, Config{ThreadID: "t1"})
	mustOK(t, err)
	// one lock for the initial checkpoint, one per executed node
	if locker.locks != 4 || locker.unlocks != 4 {
		t.Errorf("locks = %d, unlocks = %d, want 4/4", locker.locks, locker.unlocks)
	}
}
