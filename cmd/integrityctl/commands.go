package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Harshitk-cp/integrity/internal/adapter"
	"github.com/Harshitk-cp/integrity/internal/api"
	"github.com/Harshitk-cp/integrity/internal/bootstrap"
	"github.com/Harshitk-cp/integrity/internal/buildconfig"
	"github.com/Harshitk-cp/integrity/internal/config"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/seed"
	"github.com/Harshitk-cp/integrity/internal/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	jsonOutput    bool
	seedPath      string
	askAccept     bool
	askBudget     int
	askParallel   int
	pruneLevel    float64
	replayAccepts bool
)

var rootCmd = &cobra.Command{
	Use:   "integrityctl",
	Short: "Operate the knowledge graph behind the inhibition service",
	Long: `integrityctl works directly on the configured storage backend
(STORAGE_BACKEND, DATABASE_URL, BADGER_PATH). Stop the server before running
commands that write to a badger store.

Examples:
  integrityctl stats
  integrityctl seed --file papers.yaml
  integrityctl check "Python:creates:Java"
  integrityctl ask "Who created Java?" "What is Go?" --accept
  integrityctl replay 6f1d7a0e-8f5e-4b7a-9a55-0d4b8f3c2a11 --accepted`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Load()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildconfig.VersionInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", info["name"], info["version"], info["commit"])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and edge counts per layer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(ctx context.Context, app *api.App) error {
			stats := app.Graph.Current().Stats()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %d: %d nodes, %d edges\n", stats.Version, stats.Nodes, stats.Edges)
			for _, l := range []domain.Layer{domain.LayerSemantic, domain.LayerEpisodic} {
				ls := stats.Layers[l]
				fmt.Fprintf(out, "  %-9s %5d nodes %5d edges\n", l, ls.Nodes, ls.Edges)
			}
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load entities and relations from a YAML seed file",
	Long: `Apply a seed file to the stored graph and save the new version.
Without --file the built-in seed is applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := seed.Default()
		if seedPath != "" {
			var err error
			if f, err = seed.LoadFile(seedPath); err != nil {
				return err
			}
		}
		return withApp(cmd.Context(), true, func(ctx context.Context, app *api.App) error {
			res, err := f.Apply(ctx, app.Graph)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d entities and %d relations (version %d)\n",
				res.Entities, res.Relations, res.Version)
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check CLAIM...",
	Short: "Score claims against the graph as a single step",
	Long: `Score one or more claims, written subject:relation:object (prefix the
relation with ! to deny it), as one generation step and print the decision.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var claims []domain.Assertion
		for _, arg := range args {
			a, err := domain.ParseAssertion(arg)
			if err != nil {
				return err
			}
			claims = append(claims, a)
		}
		return withApp(cmd.Context(), false, func(ctx context.Context, app *api.App) error {
			s, err := app.Runner.Open(uuid.Nil, 0)
			if err != nil {
				return err
			}
			defer s.Cancel(ctx, "check")
			ev, err := s.Step(ctx, adapter.Step{Span: strings.Join(args, "; "), Assertions: claims})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), ev)
			}
			out := cmd.OutOrStdout()
			c := ev.Sample.Components
			fmt.Fprintf(out, "composite %.3f (semantic %.3f, epistemic %.3f, self %.3f)\n",
				ev.Sample.Composite, c.Semantic, c.Epistemic, c.SelfModel)
			fmt.Fprintf(out, "%s -> %s: %s\n", ev.Before, ev.After, ev.Action.Kind)
			if ev.Action.Text != "" {
				fmt.Fprintln(out, ev.Action.Text)
			}
			return nil
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Answer questions with the configured LLM under inhibition",
	Long: `Generate an answer for each question with LLM_PROVIDER and run it
through the inhibition pipeline. Questions are answered concurrently.
With --accept finished answers are consolidated into the graph.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), askAccept, func(ctx context.Context, app *api.App) error {
			if app.LLM == nil {
				return fmt.Errorf("no LLM client for provider %q", config.LLMProvider())
			}

			type answer struct {
				Question string          `json:"question"`
				Answer   string          `json:"answer"`
				Result   *session.Result `json:"result"`
			}
			answers := make([]answer, len(args))

			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(askParallel)
			for i, q := range args {
				i, q := i, q
				g.Go(func() error {
					gen := adapter.NewGenerator(app.LLM, q)
					res, err := app.Runner.Run(gctx, uuid.New(), gen, askBudget)
					if err != nil {
						return fmt.Errorf("%q: %w", q, err)
					}
					mu.Lock()
					answers[i] = answer{Question: q, Answer: gen.Transcript(), Result: res}
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if askAccept {
				for _, a := range answers {
					if a.Result.Outcome == domain.OutcomeIncomplete {
						continue
					}
					if _, err := app.Consolidation.Consolidate(ctx, a.Result.Report(true, nil)); err != nil {
						return err
					}
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), answers)
			}
			out := cmd.OutOrStdout()
			for _, a := range answers {
				fmt.Fprintf(out, "Q: %s\nA: %s\n   [%s after %d steps, %d tokens saved]\n\n",
					a.Question, a.Answer, a.Result.Outcome, a.Result.Steps, a.Result.TokensSaved)
			}
			return nil
		})
	},
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one episodic decay pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), true, func(ctx context.Context, app *api.App) error {
			res, err := app.Decay.RunDecay(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop episodic records below a confidence threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneLevel <= 0 || pruneLevel >= 1 {
			return fmt.Errorf("--threshold %v must be in (0, 1)", pruneLevel)
		}
		return withApp(cmd.Context(), true, func(ctx context.Context, app *api.App) error {
			res, err := app.Decay.Prune(ctx, pruneLevel)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay SESSION_ID",
	Short: "Consolidate a session from its persisted events",
	Long: `Rebuild a session report from the event log and consolidate it. A
session that was already consolidated is reported as replayed and leaves the
graph untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		return withBackend(cmd.Context(), true, func(ctx context.Context, app *api.App, backend api.Backend) error {
			events, err := backend.Events.ListBySession(ctx, id)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
			}
			res, err := app.Consolidation.Consolidate(ctx, reportFromEvents(id, events, replayAccepts))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current graph snapshot as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(ctx context.Context, app *api.App) error {
			return printJSON(cmd.OutOrStdout(), app.Graph.Current().Records())
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON")

	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "", "Seed file (YAML)")
	askCmd.Flags().BoolVar(&askAccept, "accept", false, "Consolidate finished answers")
	askCmd.Flags().IntVar(&askBudget, "budget", 0, "Token budget per answer (0 uses SESSION_TOKEN_BUDGET)")
	askCmd.Flags().IntVar(&askParallel, "parallel", 4, "Questions answered at once")
	pruneCmd.Flags().Float64Var(&pruneLevel, "threshold", 0.1, "Retention threshold")
	replayCmd.Flags().BoolVar(&replayAccepts, "accepted", false, "Treat the output as accepted")

	rootCmd.AddCommand(versionCmd, statsCmd, seedCmd, checkCmd, askCmd, decayCmd, pruneCmd, replayCmd, exportCmd)
}

// reportFromEvents rebuilds the report of a finished session. The outcome is
// read off the last recorded transition; a session whose log ends in a
// non-terminal state is INCOMPLETE.
func reportFromEvents(id uuid.UUID, events []domain.InhibitionEvent, accepted bool) domain.SessionReport {
	rep := domain.SessionReport{
		SessionID:       id,
		Outcome:         domain.OutcomeIncomplete,
		SnapshotVersion: events[0].Sample.SnapshotVersion,
		Events:          events,
		Accepted:        accepted,
	}
	switch events[len(events)-1].After {
	case domain.StateAborted:
		rep.Outcome = domain.OutcomeAborted
	case domain.StateCompleted:
		rep.Outcome = domain.OutcomeCompleted
	}
	return rep
}

func withApp(ctx context.Context, save bool, fn func(context.Context, *api.App) error) error {
	return withBackend(ctx, save, func(ctx context.Context, app *api.App, _ api.Backend) error {
		return fn(ctx, app)
	})
}

// withBackend restores the graph from the configured backend, runs fn and,
// when save is set, persists the resulting version.
func withBackend(ctx context.Context, save bool, fn func(context.Context, *api.App, api.Backend) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := bootstrap.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	backend, closeBackend, err := bootstrap.OpenBackend(ctx, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	app, err := bootstrap.NewApp(ctx, backend, logger)
	if err != nil {
		return err
	}
	if err := fn(ctx, app, backend); err != nil {
		return err
	}
	if save && app.Persister != nil {
		if _, err := app.Persister.Save(ctx); err != nil {
			return fmt.Errorf("save graph: %w", err)
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
