package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/se-harvest/pkg/config"
	"github.com/Sternrassler/se-harvest/pkg/logging"
	"github.com/Sternrassler/se-harvest/pkg/metrics"
	"github.com/Sternrassler/se-harvest/pkg/pipeline"
	"github.com/Sternrassler/se-harvest/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	format     string
	output     string
	logLevel   string
	pretty     bool
	plainText  bool
	maxPages   int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "se-harvest",
		Short: "Harvest question/accepted-answer pairs from a StackExchange site",
		Long: `se-harvest searches a StackExchange site for questions with a tag,
created on or after a date, fetches their answers in batches of 100 and
writes every question that has exactly one accepted answer.

Configuration is read from --config (YAML or .env), CONFIG_PATH, ./.env or
the environment. Required: STACKEXCHANGE_API_KEY, STACKEXCHANGE_SITE, TAG,
FROM_DATE (YYYY-MM-DD).

Examples:
  # Harvest with settings from ./.env
  se-harvest

  # Line-delimited prompt/response output with HTML stripped
  se-harvest --format jsonl --plain-text -o data/go.jsonl`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, opts)
		},
	}

	bindFlags(cmd, opts)
	return cmd
}

func bindFlags(cmd *cobra.Command, opts *rootOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or .env config file")
	flags.StringVarP(&opts.format, "format", "f", "", "Output format: json or jsonl")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file path")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")
	flags.BoolVar(&opts.plainText, "plain-text", false, "Strip HTML from titles and bodies")
	flags.IntVar(&opts.maxPages, "max-pages", -1, "Stop after this many search pages (0 = unlimited)")
}

// applyFlags overrides loaded values with explicitly set flags.
func applyFlags(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = opts.format
	}
	if flags.Changed("output") {
		cfg.Output.Path = opts.output
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = opts.pretty
	}
	if flags.Changed("plain-text") {
		cfg.Output.PlainText = opts.plainText
	}
	if flags.Changed("max-pages") {
		cfg.Query.MaxPages = opts.maxPages
	}
}

func runHarvest(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := pipeline.Deps{Logger: logger}

	if cfg.Redis.URL != "" {
		redisClient, err := connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		deps.Redis = redisClient
		logger.Info().Msg("Publishing quota state to Redis")
	}

	if cfg.Database.URL != "" {
		pairStore, err := store.NewPairStore(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pairStore.Close()
		if err := pairStore.Migrate(ctx); err != nil {
			return err
		}
		deps.Sink = pairStore
		logger.Info().Msg("Storing pairs in PostgreSQL")
	}

	p, err := pipeline.New(*cfg, deps)
	if err != nil {
		return err
	}

	summary, runErr := p.Run(ctx)
	writeMetrics(logger, cfg.Metrics.File)

	if runErr != nil {
		if errors.Is(runErr, pipeline.ErrIncomplete) {
			logger.Warn().Err(runErr).Str("path", summary.OutputPath).Msg("Output written from partial results")
		}
		return runErr
	}
	if summary.FutureFromDate {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: FROM_DATE lies in the future, no questions were fetched")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Questions and answers have been written to: %s (%d pairs)\n",
		summary.OutputPath, summary.Paired)
	return nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func writeMetrics(logger zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path, nil); err != nil {
		logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}
}
