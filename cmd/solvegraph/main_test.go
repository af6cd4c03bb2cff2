package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/internal/config"
	"github.com/dshills/solvegraph/internal/logging"
	"github.com/dshills/solvegraph/loop"
	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
	"github.com/dshills/solvegraph/verify"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestParseTrials(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"", 1, true},
		{"0", 0, true},
		{"4", 4, true},
		{"-1", 0, false},
		{"many", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseTrials(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTerminalPort(t *testing.T) {
	review := loop.Review{
		ThreadID: "p1",
		Trials:   1,
		Diagnostic: solver.Diagnostic{
			Code:        "print(1)",
			HasPassRate: true,
			Passed:      1,
			Total:       2,
			Tests:       []solver.TestOutcome{{ID: 0, Result: "passed"}, {ID: 1, Result: "wrong answer"}},
		},
	}

	tests := []struct {
		name  string
		input string
		want  loop.Decision
	}{
		{"feedback and trials", "use a heap\n3\n", loop.Decision{Feedback: "use a heap", Trials: 3}},
		{"default trial count", "\n\n", loop.Decision{Trials: 1}},
		{"zero stops", "ignored\n0\n", loop.Decision{Abort: true}},
		{"invalid count reprompts", "hint\nx\n2\n", loop.Decision{Feedback: "hint", Trials: 2}},
		{"end of input aborts", "", loop.Decision{Abort: true}},
		{"no trailing newline", "hint\n2", loop.Decision{Feedback: "hint", Trials: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			port := newTerminalPort(strings.NewReader(tt.input), &out, newPresenter(&out, false))
			got, err := port.Decide(context.Background(), review)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Pass rate: 1/2")
			assert.Contains(t, out.String(), "```python\nprint(1)\n```")
		})
	}
}

func TestTerminalPort_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	port := newTerminalPort(strings.NewReader("x\n1\n"), &out, newPresenter(&out, false))
	_, err := port.Decide(ctx, loop.Review{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicyFor(t *testing.T) {
	cfg := memoryConfig(t)

	assert.Equal(t, loop.Interactive{}, policyFor(cfg, false, -1))
	assert.Equal(t, loop.Interactive{}, policyFor(cfg, true, 5))
	assert.Equal(t, loop.Unattended{Budget: 4}, policyFor(cfg, false, 5))

	cfg.Loop.Policy = "unattended"
	cfg.Loop.Budget = 2
	assert.Equal(t, loop.Unattended{Budget: 2}, policyFor(cfg, false, -1))
}

func TestNewJudge(t *testing.T) {
	cfg := memoryConfig(t)
	_, ok := newJudge(cfg).(*verify.SubprocessJudge)
	assert.True(t, ok)

	cfg.Verify.Judge = "http"
	cfg.Verify.URL = "http://judge.local/check"
	_, ok = newJudge(cfg).(*verify.HTTPJudge)
	assert.True(t, ok)
}

func TestNewChatModel(t *testing.T) {
	cfg := memoryConfig(t)

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := newChatModel(cfg)
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	for _, provider := range []string{"anthropic", "openai", "google"} {
		cfg.Model.Provider = provider
		cfg.Model.APIKeyEnv = "SOLVEGRAPH_TEST_KEY"
		t.Setenv("SOLVEGRAPH_TEST_KEY", "k")
		m, err := newChatModel(cfg)
		require.NoError(t, err, provider)
		assert.NotNil(t, m, provider)
	}
}

func TestNewSearcher(t *testing.T) {
	cfg := memoryConfig(t)
	idx, err := newSearcher(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	corpus := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpus, []byte(
		`{"cp_id":"a","description":"sum two numbers","solution":"print(sum)"}`+"\n"+
			`{"cp_id":"b","description":"sort numbers","solution":"print(sorted)"}`+"\n"+
			`{"cp_id":"c","description":"numbers in a grid","solution":"print(grid)"}`+"\n"+
			`{"cp_id":"d","description":"count numbers","solution":"print(count)"}`+"\n"), 0o600))
	cfg.Retrieval.Corpus = corpus
	idx, err = newSearcher(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Len())
}

func TestThreadConfig_KControlsExamples(t *testing.T) {
	corpus := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpus, []byte(
		`{"cp_id":"a","description":"sum two numbers","solution":"print(sum)"}`+"\n"+
			`{"cp_id":"b","description":"sort numbers","solution":"print(sorted)"}`+"\n"+
			`{"cp_id":"c","description":"numbers in a grid","solution":"print(grid)"}`+"\n"), 0o600))
	cfg := memoryConfig(t)
	cfg.Retrieval.Corpus = corpus
	idx, err := newSearcher(cfg, logging.NewNop())
	require.NoError(t, err)

	rec := state.NewRecord("p", "problem", nil, 1)
	candidate := state.Assistant("", &state.ToolCall{
		ID:      "call_0",
		Name:    state.CodeTool,
		Payload: state.CodePayload{Code: "read numbers"},
	})
	rec.Candidate = &candidate
	retriever := solver.NewRetriever(idx)

	for _, k := range []int{1, 3} {
		cfg.Retrieval.K = k
		tc := threadConfig(cfg, "p")
		assert.Equal(t, k, tc.K)

		upd, err := retriever.Run(context.Background(), rec, tc)
		require.NoError(t, err)
		require.Len(t, upd, 1)
		examples, ok := upd[0].(state.SetExamples)
		require.True(t, ok)
		assert.Equal(t, k, strings.Count(examples.Text, "<problem>"), "k=%d", k)
	}
}

func TestBuildApp_Inspection(t *testing.T) {
	cfg := memoryConfig(t)
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logging.NewNop(), false)
	require.NoError(t, err)
	defer a.Close(ctx)

	ids, err := a.engine.Threads(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = a.engine.Latest(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrUnknownThread)
}

func TestBuildApp_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "solve.db")
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logging.NewNop(), false)
	require.NoError(t, err)

	rec := state.NewRecord("p1", "problem", []state.TestCase{{Input: "1", Output: "1"}}, 1)
	_, err = a.engine.Start(ctx, rec, graph.Config{ThreadID: "p1"})
	require.Error(t, err, "inspection builds have no chat model")
	require.NoError(t, a.Close(ctx))

	a, err = buildApp(ctx, cfg, logging.NewNop(), false)
	require.NoError(t, err)
	defer a.Close(ctx)
	cp, err := a.engine.Latest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Seq, "the input checkpoint survives a restart")
	assert.Equal(t, solver.NodeDraft, cp.Next)
}

func TestNewTracerProvider_Off(t *testing.T) {
	tp, closer, err := newTracerProvider(config.TraceConfig{Exporter: "none"})
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.Nil(t, closer)
}

func TestBuildApp_TraceExport(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Trace.Exporter = "stdout"
	cfg.Trace.Path = filepath.Join(t.TempDir(), "spans.jsonl")
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logging.NewNop(), false)
	require.NoError(t, err)
	require.NotNil(t, a.tracer)

	rec := state.NewRecord("p1", "problem", nil, 1)
	_, err = a.engine.Start(ctx, rec, threadConfig(cfg, "p1"))
	require.Error(t, err, "inspection builds have no chat model")
	require.NoError(t, a.Close(ctx))

	spans, err := os.ReadFile(cfg.Trace.Path)
	require.NoError(t, err)
	assert.Contains(t, string(spans), `"thread started"`)
	assert.Contains(t, string(spans), `"node failed"`)
	assert.Contains(t, string(spans), "solvegraph.thread_id")
}

func TestRootCmd_Threads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solvegraph.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\nbackend = \"memory\"\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "--log-level", "error", "threads"})
	require.NoError(t, cmd.Execute())
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--log-level", "loud", "threads"})
	assert.Error(t, cmd.Execute())
}
