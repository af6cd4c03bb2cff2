package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dshills/solvegraph/dataset"
	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/internal/config"
	"github.com/dshills/solvegraph/internal/httpapi"
	"github.com/dshills/solvegraph/loop"
	"github.com/dshills/solvegraph/solver"
)

func stdoutPresenter(cfg *config.Config) *presenter {
	return newPresenter(os.Stdout, !cfg.Log.NoColor && isatty.IsTerminal(os.Stdout.Fd()))
}

// policyFor resolves the retry policy from config and flags. A negative
// trials value keeps the configured budget.
func policyFor(cfg *config.Config, interactive bool, trials int) loop.Policy {
	if interactive || (cfg.Loop.Policy == "interactive" && trials < 0) {
		return loop.Interactive{}
	}
	budget := cfg.Loop.Budget
	if trials > 0 {
		budget = trials - 1
	}
	return loop.Unattended{Budget: budget}
}

func newSolveCmd(g *globals) *cobra.Command {
	var (
		problemPath string
		testDir     string
		trials      int
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a problem from scratch",
		Long: `Solve runs draft, retrieve, solve and evaluate on a new thread named after
the problem id. Unattended runs stop after the trial budget; interactive runs
ask for feedback after every failed attempt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			problem, err := dataset.Load(problemPath, testDir)
			if err != nil {
				return err
			}

			a, err := buildApp(ctx, g.cfg, g.logger, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			pres := stdoutPresenter(g.cfg)
			pres.problem(problem.Record())

			policy := policyFor(g.cfg, interactive, trials)
			opts := []loop.Option{loop.WithPolicy(policy), loop.WithLogger(g.logger)}
			var port loop.DecisionPort = loop.AbortPort
			if _, ok := policy.(loop.Interactive); ok {
				port = newTerminalPort(os.Stdin, os.Stdout, pres)
			} else {
				u := policy.(loop.Unattended)
				bar := progressbar.Default(int64(u.Budget+1), "Trials")
				opts = append(opts, loop.OnTrial(func(loop.TrialEvent) { _ = bar.Add(1) }))
				defer bar.Finish()
			}

			out, err := loop.New(a.engine, port, opts...).
				Run(ctx, problem.Record(), threadConfig(g.cfg, problem.ThreadID()))
			if errors.Is(err, graph.ErrThreadExists) {
				return fmt.Errorf("%w: use `solvegraph resume --thread %s`", err, problem.ThreadID())
			}
			if err != nil {
				return err
			}
			return report(pres, out)
		},
	}
	cmd.Flags().StringVar(&problemPath, "problem", "", "Problem file (JSON or YAML)")
	cmd.Flags().StringVar(&testDir, "tests", "", "Directory of I.k/O.k test files")
	cmd.Flags().IntVar(&trials, "trials", -1, "Unattended attempts before stopping (overrides loop.budget)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Ask for feedback after every failed attempt")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

func newResumeCmd(g *globals) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a stored thread from its latest checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, g.cfg, g.logger, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			pres := stdoutPresenter(g.cfg)
			out, err := loop.New(a.engine, newTerminalPort(os.Stdin, os.Stdout, pres),
				loop.WithPolicy(policyFor(g.cfg, false, -1)),
				loop.WithLogger(g.logger),
			).Attach(ctx, threadConfig(g.cfg, threadID))
			if err != nil {
				return err
			}
			return report(pres, out)
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func report(pres *presenter, out loop.Outcome) error {
	pres.outcome(out)
	if out.Phase == loop.Succeeded {
		fmt.Print(pres.renderCode(solver.ParseDiagnostic(out.State).Code))
	}
	return nil
}

func newHistoryCmd(g *globals) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a thread's checkpoints, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, g.cfg, g.logger, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			hist, err := a.engine.History(ctx, threadID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tSOURCE\tNEXT\tSTATUS\tMESSAGES\tCREATED\tDIGEST")
			for _, cp := range hist {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%.12s\n",
					cp.Seq, cp.Source, cp.Next, cp.State.Status, len(cp.State.Messages),
					cp.CreatedAt.Format(time.RFC3339), cp.Digest)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newThreadsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List stored threads with their latest checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, g.cfg, g.logger, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ids, err := a.engine.Threads(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				color.Yellow("No threads stored.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tSEQ\tNEXT\tSTATUS")
			for _, id := range ids {
				cp, err := a.engine.Latest(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", id, cp.Seq, cp.Next, cp.State.Status)
			}
			return tw.Flush()
		},
	}
}

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only inspection API and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("addr") {
				g.cfg.Server.Addr = addr
			}
			a, err := buildApp(ctx, g.cfg, g.logger, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			srv := &http.Server{
				Addr:              g.cfg.Server.Addr,
				Handler:           httpapi.NewHandler(a.engine, a.registry, g.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				g.logger.Info("inspection api listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
