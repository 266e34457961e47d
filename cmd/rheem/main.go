// Command rheem is the CLI front-end for the optimizer/driver/learner
// core: "plan" prints an EXPLAIN-style rendering of the chosen
// implementation without running anything, "execute" optimizes and runs
// a job end to end, and "learn" fits load-profile coefficients from a
// logged execution history. Grounded in the teacher's
// cmd/relational-db/main.go for the zerolog wiring and graceful-shutdown
// signal handling, generalized from a single long-running server process
// to a set of one-shot cobra subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/namyoh/rheem/internal/channel"
	"github.com/namyoh/rheem/internal/config"
	"github.com/namyoh/rheem/internal/cost"
	"github.com/namyoh/rheem/internal/driver"
	"github.com/namyoh/rheem/internal/learner"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/platform/local"
	"github.com/namyoh/rheem/pkg/rheem"
)

var (
	logLevel   string
	configFile string
	log        zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "rheem",
		Short: "Cross-platform cost-based data processing optimizer",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a rheem configuration file")

	root.AddCommand(planCmd(), executeCmd(), learnCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Configuration, error) {
	return config.LoadFromEnv(configFile)
}

// demoJob builds the worked example from spec §8: a local source piped
// through a filter and a map into a sink, entirely on the local
// platform. It exists so `plan`/`execute` have something concrete to
// run without requiring a real external backend wired up first.
func demoJob(cfg *config.Configuration) (*rheem.Job, *local.SinkOperator, error) {
	m := mapping.NewMapping("demo")
	sink := local.NewSinkOperator()

	registry := driver.NewRegistry()
	registry.Register(local.New())

	plan, err := buildDemoPlan(m, sink)
	if err != nil {
		return nil, nil, err
	}

	job, err := rheem.New(plan, m, registry, channel.NewGraph(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return job, sink, nil
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Optimize the built-in demo job and print the chosen implementation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			job, _, err := demoJob(cfg)
			if err != nil {
				return err
			}
			defer job.Close()
			impl, err := job.Optimize()
			if err != nil {
				return err
			}
			fmt.Println(Explain(job.Plan, impl))
			return nil
		},
	}
}

func executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Optimize and run the built-in demo job end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			job, sink, err := demoJob(cfg)
			if err != nil {
				return err
			}
			defer job.Close()

			ctx, cancel := context.WithCancel(context.Background())
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				log.Info().Msg("shutdown signal received, cancelling in-flight job")
				cancel()
			}()
			defer signal.Stop(sigChan)

			if err := job.Run(ctx, nil); err != nil {
				return err
			}
			fmt.Printf("produced %d rows\n", len(sink.Collected))
			return nil
		},
	}
}

func learnCmd() *cobra.Command {
	var logPath string
	var operatorKey string
	var expr string
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Fit load-profile coefficients from a logged execution history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if logPath == "" {
				logPath = cfg.String_(config.KeyLogExecutions)
			}
			e, err := cost.Parse(expr)
			if err != nil {
				return fmt.Errorf("learn: parsing expression: %w", err)
			}
			opts := learner.DefaultOptions()
			opts.Generations = cfg.Int(config.KeyProfilerGAGenerations)
			opts.Population = cfg.Int(config.KeyProfilerGAPopulation)
			opts.EliteFraction = cfg.Float64(config.KeyProfilerGAEliteFraction)
			opts.MutationRate = cfg.Float64(config.KeyProfilerGAMutationRate)
			opts.Tribes = cfg.Int(config.KeyProfilerGATribes)
			opts.Seed = cfg.Int64(config.KeyProfilerGASeed)
			opts.Binning = cfg.Float64(config.KeyProfilerGABinning)

			l := learner.New(opts)
			results, err := l.FitFromLog(logPath, map[string]*cost.Expr{operatorKey: e})
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s: fitness=%.4f samples=%d genes=%v\n", r.OperatorKey, r.Fitness, r.Samples, r.Genes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "path to the execution log (defaults to the configured rheem.core.log.executions)")
	cmd.Flags().StringVar(&operatorKey, "operator", "", "operator configuration key to fit")
	cmd.Flags().StringVar(&expr, "expr", "", "load-profile expression to fit, e.g. \"${c0} * in0 + ${c1}\"")
	cmd.MarkFlagRequired("operator")
	cmd.MarkFlagRequired("expr")
	return cmd
}
