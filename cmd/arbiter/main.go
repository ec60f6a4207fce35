// Package main is the entry point for the arbiter CLI: a query router that
// picks the right reasoning brain per query, falls back across providers,
// and reviews what comes back.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/normanking/arbiter/internal/bus"
	"github.com/normanking/arbiter/internal/config"
	"github.com/normanking/arbiter/internal/llm"
	"github.com/normanking/arbiter/internal/logging"
	"github.com/normanking/arbiter/internal/metrics"
	"github.com/normanking/arbiter/internal/review"
	"github.com/normanking/arbiter/internal/session"
	"github.com/normanking/arbiter/internal/tools"
	"github.com/normanking/arbiter/pkg/brain"
	"github.com/normanking/arbiter/pkg/router"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool

	cfg       *config.Config
	logCloser io.Closer
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Arbiter - routes queries to the right reasoning brain",
		Long: `Arbiter routes each query to the reasoning brain best suited to answer it,
riding a provider fallback chain (primary cloud, backups, secondary cloud,
local) and reviewing risky answers before they ship.

One-shot question:   arbiter reason "why is the sky blue"
List brains:         arbiter brains
Provider counters:   arbiter stats`,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.arbiter/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("arbiter v%s\n", version)
		},
	})
	rootCmd.AddCommand(reasonCmd())
	rootCmd.AddCommand(brainsCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initApp(*cobra.Command, []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logCloser, err = logging.Setup(logging.Options{
		Level:   level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console && verbose,
	})
	return err
}

func reasonCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "reason <query>",
		Short: "Route a query to the best brain and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.cleanup()

			var collector *metrics.Collector
			if verbose {
				collector = metrics.NewCollector(a.events)
			}

			resp := a.router.Reason(context.Background(), query, router.Context{SessionID: sessionID})

			fmt.Println(resp.Text)
			if verbose {
				fmt.Fprintf(os.Stderr, "\nbrain=%s method=%s confidence=%.2f elapsed=%dms\n",
					resp.Brain, resp.RoutingMethod, resp.Confidence, resp.ElapsedMs)
				if resp.Uncertainty != nil {
					fmt.Fprintf(os.Stderr, "uncertainty: epistemic=%.3f aleatoric=%.3f total=%.3f\n",
						resp.Uncertainty.Epistemic, resp.Uncertainty.Aleatoric, resp.Uncertainty.Total)
				}
				// Let async event handlers drain before reading.
				time.Sleep(50 * time.Millisecond)
				activity := collector.Snapshot()
				fmt.Fprintf(os.Stderr, "activity: provider_attempts=%d failures=%d tool_calls=%d reviews=%d\n",
					activity.ProviderAttempts, activity.ProviderFailures, activity.ToolCalls, activity.Reviews)
				collector.Stop()
			}
			if !resp.OK {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id for conversation continuity")
	return cmd
}

func brainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brains",
		Short: "List configured brains and their recorded outcomes",
		RunE: func(*cobra.Command, []string) error {
			reg, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}

			fmt.Printf("%-12s %-28s %-6s %-8s %-8s %s\n", "BRAIN", "MODEL", "TEMP", "TOKENS", "ENABLED", "OUTCOMES")
			for _, id := range brain.All() {
				b, err := reg.Get(id)
				if err != nil {
					continue
				}
				success, failure := b.Outcomes()
				fmt.Printf("%-12s %-28s %-6.2f %-8d %-8t %d/%d\n",
					b.ID, b.ModelVariant, b.Temperature, b.MaxTokens, b.Enabled, success, success+failure)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-provider success/failure counters",
		RunE: func(*cobra.Command, []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.cleanup()

			snapshot := a.chain.Stats().Snapshot()
			if len(snapshot) == 0 {
				fmt.Println("no provider activity recorded in this process")
				return nil
			}

			names := make([]string, 0, len(snapshot))
			for name := range snapshot {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("%-12s %-10s %s\n", "PROVIDER", "SUCCESS", "FAILURE")
			for _, name := range names {
				o := snapshot[name]
				fmt.Printf("%-12s %-10d %d\n", name, o.Success, o.Failure)
			}
			return nil
		},
	}
}

// app is the fully wired pipeline for one command invocation.
type app struct {
	router  *router.Router
	chain   *llm.Chain
	events  *bus.Bus
	cleanup func()
}

// buildApp wires the full pipeline from configuration. The returned cleanup
// closes the event bus and, when SQLite-backed, the session store.
func buildApp() (*app, error) {
	reg, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}

	primary, err := newProvider(cfg.LLM.PrimaryProvider)
	if err != nil {
		return nil, err
	}

	chainOpts := []llm.ChainOption{llm.WithStats(llm.NewStats())}
	if cfg.LLM.SecondaryProvider != "" {
		secondary, err := newProvider(cfg.LLM.SecondaryProvider)
		if err != nil {
			return nil, err
		}
		chainOpts = append(chainOpts, llm.WithSecondary(secondary))
	}
	if cfg.LLM.LocalProvider != "" {
		local, err := newProvider(cfg.LLM.LocalProvider)
		if err != nil {
			return nil, err
		}
		chainOpts = append(chainOpts, llm.WithLocal(local))
	}
	chain := llm.NewChain(primary, chainOpts...)

	events := bus.New()
	closeStore := func() {}
	var store session.Store
	if cfg.Session.Persist {
		sqlStore, err := session.OpenSQLite(cfg.Session.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		store = sqlStore
		closeStore = func() { _ = sqlStore.Close() }
	} else {
		store = session.NewMemoryStore()
	}

	opts := []router.Option{
		router.WithSessionStore(store),
		router.WithTokenBudget(cfg.Session.TokenBudget),
		router.WithEvents(events),
	}
	if cfg.Tools.Enabled {
		opts = append(opts,
			router.WithTools(tools.NewBuiltinRegistry()),
			router.WithToolCycles(cfg.Tools.MaxCycles))
	}

	if cfg.Review.Enabled {
		critic, err := reg.Get(brain.Sentinel)
		if err == nil {
			opts = append(opts, router.WithReviewer(review.New(chain, critic,
				review.WithConfidenceThreshold(cfg.Review.ConfidenceThreshold),
				review.WithSampleRate(cfg.Review.SampleRate))))
		}
	}

	return &app{
		router: router.New(reg, chain, opts...),
		chain:  chain,
		events: events,
		cleanup: func() {
			closeStore()
			_ = events.Close()
		},
	}, nil
}

// newProvider builds a provider from its config section, falling back to
// built-in defaults and conventional environment variables for API keys.
func newProvider(name string) (llm.Provider, error) {
	pc := llm.DefaultConfig(name)
	if section, ok := cfg.LLM.Providers[name]; ok {
		if section.Endpoint != "" {
			pc.Endpoint = section.Endpoint
		}
		if section.APIKey != "" {
			pc.APIKey = section.APIKey
		}
		if section.Model != "" {
			pc.Model = section.Model
		}
	}
	if pc.APIKey == "" {
		switch name {
		case "openai":
			pc.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			pc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	switch name {
	case "openai":
		return llm.NewOpenAIProvider(pc), nil
	case "anthropic":
		return llm.NewAnthropicProvider(pc), nil
	case "ollama":
		return llm.NewOllamaProvider(pc), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
