package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/schaermu/tidyout/internal/buildhost"
	"github.com/schaermu/tidyout/internal/config"
	"github.com/schaermu/tidyout/internal/gate"
	"github.com/schaermu/tidyout/internal/pretty"
	"github.com/schaermu/tidyout/internal/webhook"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Run command flags
	runEnv      string
	allowedEnvs string
	inputDir    string
	outputDir   string
	testPattern string
	encodingArg string
	verbose     bool
	buildCmd    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tidyout",
	Short: "Pretty-print the HTML output of a static site build",
	Long: `tidyout re-indents the markup a static site generator produced, once the
build for an environment has finished.

It can wrap a build command (run) or wait for build notifications from a
remote builder (serve).`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [-- build command...]",
	Short: "Run the build and tidy its output",
	Long: `Run executes the configured build command for an environment and, when it
succeeded, rewrites every matching file of the build output into the output
directory with normalized indentation.

The build command comes from the config file, --build-cmd, or the arguments
after "--". Use the arguments form for commands with quoted arguments:

  tidyout run -- hugo --baseURL "https://example.com/a b"

Without a build command only the tidy step runs, on the output of an earlier
build.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the build notification server",
	Long: `Serve starts a long-running HTTP server that accepts signed build-finished
notifications and runs the build and tidy steps for the notified environment.

This mode requires the serve section of the config file.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tidyout %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Run command flags
	runCmd.Flags().StringVar(&runEnv, "env", "", "build environment, used when the config file names none (default \""+config.DefaultEnv+"\")")
	runCmd.Flags().StringVar(&allowedEnvs, "allowed-envs", "", `environments tidying runs for, comma separated ("*" for all)`)
	runCmd.Flags().StringVar(&inputDir, "input", "", "build output directory (default build_<env>)")
	runCmd.Flags().StringVar(&outputDir, "output", "", "directory tidied files are written to (default is the input directory)")
	runCmd.Flags().StringVar(&testPattern, "test", "", `files to tidy: a glob, or "re:" followed by a regular expression (default "*.html")`)
	runCmd.Flags().StringVar(&encodingArg, "encoding", "", "encoding of the files (default \""+config.DefaultEncoding+"\")")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "log what the tidy step does")
	runCmd.Flags().StringVar(&buildCmd, "build-cmd", "", "build command to run before tidying, split on whitespace (no quoting)")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	opts, err := loadOptions(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cmd, args, opts)

	if err := runPipeline(ctx, *opts, runEnv, logger); err != nil {
		logger.Error("tidy failed", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	opts, err := loadOptions(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !opts.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	runner := webhook.RunnerFunc(func(ctx context.Context, env string) error {
		o := *opts
		o.Env = env
		return runPipeline(ctx, o, env, logger)
	})

	server, err := webhook.NewServer(opts.Serve, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to create notification server: %w", err)
	}

	return server.Start(ctx)
}

// runPipeline resolves opts, taps the gate into a fresh build host and runs
// the build. defaultEnv is used when opts names no environment.
func runPipeline(ctx context.Context, opts config.Options, defaultEnv string, logger *slog.Logger) error {
	cfg, err := config.Resolve(opts, defaultEnv)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	base, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	logger.Debug("configuration resolved",
		"env", cfg.Env,
		"allowed_envs", cfg.AllowedEnvs.String(),
		"encoding", cfg.Encoding,
		"base", base)

	host := buildhost.New(opts.Build.Command, opts.Build.Dir, cfg.Env, logger)
	// The bound OS filesystem supports Chmod, which keeps file modes on rewrite
	g := gate.New(cfg, osfs.New("/", osfs.WithBoundOS()), base, pretty.Transformer{}, logger)
	if err := g.Apply(host); err != nil {
		return err
	}

	return host.Build(ctx)
}

// applyRunFlags overrides opts with the run flags given on the command line.
// Positional arguments are the build command and win over --build-cmd.
func applyRunFlags(cmd *cobra.Command, args []string, opts *config.Options) {
	flags := cmd.Flags()
	if flags.Changed("allowed-envs") {
		opts.AllowedEnvs = config.ParseAllowList(allowedEnvs)
	}
	if flags.Changed("input") {
		opts.Input = inputDir
	}
	if flags.Changed("output") {
		opts.Output = outputDir
	}
	if flags.Changed("test") {
		opts.Test = testPattern
	}
	if flags.Changed("encoding") {
		opts.Encoding = encodingArg
	}
	if flags.Changed("verbose") {
		opts.Verbose = verbose
	}
	if flags.Changed("build-cmd") {
		opts.Build.Command = strings.Fields(buildCmd)
	}
	if len(args) > 0 {
		opts.Build.Command = args
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadOptions reads the config file. An explicit --config must exist; the
// default file is optional.
func loadOptions(logger *slog.Logger) (*config.Options, error) {
	configPath := cfgFile
	if configPath == "" {
		if _, err := os.Stat(config.DefaultFile); errors.Is(err, os.ErrNotExist) {
			logger.Debug("no config file found, using defaults", "path", config.DefaultFile)
			return &config.Options{}, nil
		}
		configPath = config.DefaultFile
	}

	logger.Info("loading configuration", "path", configPath)

	opts, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"env", opts.Env,
		"input", opts.Input,
		"output", opts.Output,
		"test", opts.Test,
		"serve", opts.Serve.Enabled)

	return opts, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
