package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/config"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/ingest"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/logging"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/pipeline"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/server"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	flushLogs  = func() {}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	flushLogs()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "citefidelity",
	Short:   "Check whether citations represent the papers they cite",
	Long:    "citefidelity screens every citation against the cited paper, verifies the suspicious ones, flags repeat offenders and assesses their impact.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return eris.Wrap(err, "loading config")
		}

		overrides := config.NewOverrides()
		for key, name := range map[string]string{
			"concurrency.workers":        "workers",
			"concurrency.external_calls": "external-calls",
			"output.data_dir":            "data-dir",
			"analytics.report_dir":       "out",
			"server.port":                "port",
		} {
			if err := overrides.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return eris.Wrapf(err, "binding --%s", name)
			}
		}
		if err := overrides.Apply(cfg); err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		flush, err := logging.Install(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		flushLogs = flush
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().Int("workers", 0, "Override concurrency.workers")
	rootCmd.PersistentFlags().Int("external-calls", 0, "Override concurrency.external_calls")
	rootCmd.PersistentFlags().String("data-dir", "", "Override output.data_dir")

	rootCmd.AddCommand(initCmd, versionCmd, statusCmd, importCmd)
	rootCmd.AddCommand(screenCmd, verifyCmd, analyzeCmd, impactCmd, runCmd)
	rootCmd.AddCommand(overrideCmd, retryFailedCmd, serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("citefidelity", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/citefidelity/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return eris.Wrap(err, "creating config directory")
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return eris.Wrap(err, "writing config")
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose models, API keys and concurrency limits.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		stats, err := db.GetStats(ctx, classify.Strings(classify.SentinelCategories))
		if err != nil {
			return eris.Wrap(err, "getting stats")
		}
		pending, err := db.PendingScreening(ctx, 0)
		if err != nil {
			return err
		}
		flagged, err := db.PendingVerification(ctx, classify.Strings(classify.SuspiciousCategories), 0)
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Corpus:")
		fmt.Printf("  Documents: %d\n", stats.Documents)
		fmt.Printf("  Citation edges: %d\n", stats.Edges)
		fmt.Printf("  Citation instances: %d\n", stats.Instances)
		fmt.Println("\nClassification:")
		fmt.Printf("  Screened: %d (%d pending)\n", stats.FirstClassified, len(pending))
		fmt.Printf("  Verified: %d (%d pending)\n", stats.SecondClassified, len(flagged))
		fmt.Printf("  Evaluation failures: %d\n", stats.Sentinels)
		fmt.Printf("  Impact assessments: %d\n", stats.ImpactAssessments)

		runs, err := db.RecentStageRuns(ctx, 5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				fmt.Printf("  %s %-12s selected %d, succeeded %d, eval failures %d, failed %d\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Stage, r.Selected, r.Succeeded, r.Sentinel, r.Failed)
			}
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import documents and citation contexts from a YAML or JSON corpus file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		corpus, err := ingest.Load(args[0])
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := ingest.Import(cmd.Context(), db, corpus)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d documents, %d edges, %d new citation instances (%d already present, %d rejected)\n",
			r.Documents, r.Edges, r.Instances, r.Existing, r.Rejected)
		return nil
	},
}

// --- stage commands ---

var limit int

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen unclassified citations (first round)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, true, func(ctx context.Context, p *pipeline.Pipeline) error {
			return printStep(p.Screen(ctx, limit))
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify suspicious citations (second round)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, true, func(ctx context.Context, p *pipeline.Pipeline) error {
			return printStep(p.Verify(ctx, limit))
		})
	},
}

var publish bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Recompute analytics and write the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if publish {
			cfg.Analytics.Minio.Enabled = true
		}
		return withPipeline(cmd, false, func(ctx context.Context, p *pipeline.Pipeline) error {
			report, step := p.Analyze(ctx)
			if err := printStep(step); err != nil {
				return err
			}
			pub, err := pipeline.Publishers(ctx, cfg)
			if err != nil {
				return err
			}
			written, err := pub.Publish(ctx, report)
			for _, w := range written {
				fmt.Printf("  wrote %s\n", w)
			}
			return err
		})
	},
}

var (
	documentID string
	force      bool
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Assess the impact of a repeat offender's problematic citations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, true, func(ctx context.Context, p *pipeline.Pipeline) error {
			a, step := p.Assess(ctx, documentID, force)
			if err := printStep(step); err != nil {
				return err
			}
			fmt.Printf("\n%s\n", a.Rationale)
			printList("For reviewers", a.ReviewerRecommendations)
			printList("For readers", a.ReaderRecommendations)
			return nil
		})
	},
}

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: screen -> verify -> analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, !dryRun, func(ctx context.Context, p *pipeline.Pipeline) error {
			var result *pipeline.Result
			if dryRun {
				result = p.DryRun(ctx, limit)
			} else {
				result = p.Run(ctx, limit)
			}

			var failed error
			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
					if failed == nil {
						failed = eris.Wrapf(step.Err, "%s step failed", strings.ToLower(step.Name))
					}
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
			if ctx.Err() != nil {
				return eris.New("interrupted")
			}
			if failed != nil {
				return failed
			}

			if !dryRun {
				hits, misses := p.CacheStats()
				zap.L().Debug("embedding cache", zap.Int64("hits", hits), zap.Int64("misses", misses))
				fmt.Println("\nPipeline complete! Run 'citefidelity serve' to browse the results.")
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{screenCmd, verifyCmd, runCmd} {
		c.Flags().IntVarP(&limit, "limit", "n", 0, "Process at most this many instances per stage (0 = all)")
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without calling any model")

	analyzeCmd.Flags().String("out", "", "Write report artifacts to this directory")
	analyzeCmd.Flags().BoolVar(&publish, "publish", false, "Also upload the report to the configured MinIO bucket")

	impactCmd.Flags().StringVarP(&documentID, "document", "d", "", "Citing document id")
	impactCmd.Flags().BoolVar(&force, "force", false, "Assess even if the document is not a repeat offender")
	_ = impactCmd.MarkFlagRequired("document")
}

// --- maintenance commands ---

var overrideCmd = &cobra.Command{
	Use:   "override [instance-id] [FIRST|SECOND] [category] [note]",
	Short: "Record a reviewer's correction of a classification",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid instance id: %s", args[0])
		}
		round := database.Round(strings.ToUpper(args[1]))
		if !round.Valid() {
			return eris.Errorf("round must be FIRST or SECOND, got %q", args[1])
		}
		category := classify.ParseCategory(args[2])
		if !category.Valid() || category.Sentinel() {
			return eris.Errorf("unknown category %q", args[2])
		}
		note := ""
		if len(args) > 3 {
			note = args[3]
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.SetOverride(cmd.Context(), id, round, string(category), note); err != nil {
			return eris.Wrapf(err, "overriding %s classification of instance %d", round, id)
		}
		fmt.Printf("Instance %d %s: overridden to %s\n", id, round, category)
		return nil
	},
}

var retryRound string

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Clear evaluation failures so the next run classifies those instances again",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rounds []database.Round
		switch strings.ToUpper(retryRound) {
		case "", "ALL":
			rounds = []database.Round{database.RoundFirst, database.RoundSecond}
		case string(database.RoundFirst), string(database.RoundSecond):
			rounds = []database.Round{database.Round(strings.ToUpper(retryRound))}
		default:
			return eris.Errorf("round must be FIRST, SECOND or all, got %q", retryRound)
		}

		return withPipeline(cmd, false, func(ctx context.Context, p *pipeline.Pipeline) error {
			for _, round := range rounds {
				n, err := p.RetryFailed(ctx, round)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d instances reset\n", round, n)
			}
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local read-only web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Starting server at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), db, cfg.Server.Port,
			cfg.Analytics.RepeatOffenderThreshold, cfg.Server.AllowedOrigins)
	},
}

func init() {
	retryFailedCmd.Flags().StringVar(&retryRound, "round", "all", "Round to reset: FIRST, SECOND or all")
	serveCmd.Flags().IntP("port", "p", 8000, "Port to run server on")
}

// --- helpers ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}
	dbPath := filepath.Join(dataDir, "citefidelity.db")
	return database.Open(dbPath)
}

// withPipeline opens the store and wires a pipeline for fn. Stages that
// call models need providers; a provider that cannot be configured aborts
// the command before any work is selected.
func withPipeline(cmd *cobra.Command, needModels bool, fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	ctx := cmd.Context()
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	deps := &pipeline.Deps{}
	if needModels {
		deps, err = pipeline.Connect(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "classification provider unavailable")
		}
		defer deps.Close()
	}
	return fn(ctx, pipeline.New(cfg, db, deps))
}

func printStep(step pipeline.StepResult) error {
	if step.Err != nil {
		return step.Err
	}
	fmt.Println(step.Summary)
	return nil
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, item := range items {
		fmt.Printf("  - %s\n", item)
	}
}
