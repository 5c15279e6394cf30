// Package cmd provides the command-line interface for PageProbe.
// It handles command parsing, configuration loading, and run execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/masahif/pageprobe/internal/config"
	"github.com/masahif/pageprobe/internal/logging"
	"github.com/masahif/pageprobe/internal/parser"
	"github.com/masahif/pageprobe/internal/probe"
	"github.com/masahif/pageprobe/internal/render"
	"github.com/masahif/pageprobe/internal/report"
	"github.com/masahif/pageprobe/internal/storage"
)

const (
	envPrefix      = "PAGEPROBE"
	configName     = "pageprobe"
	maskedSecret   = "********"
	appDescription = `PageProbe fetches every URL in a line-delimited file, extracts page
metadata (title, description, links, scripts, structured data), flags
anti-bot interstitials and, when Chrome is installed, re-renders blocked
or failing pages in a headless browser.

Full results are written as JSON; a short summary is printed at the end.`
)

var (
	version   string
	buildTime string
)

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
}

// Execute runs the root command, cancelling the run on interrupt
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the pageprobe command with its own viper instance
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "pageprobe <input_file>",
		Short:         "Fetch a list of URLs and report page metadata",
		Long:          appDescription,
		Args:          inputArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, v, args)
		},
	}

	if version != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	defaults := config.DefaultConfig()
	flags := rootCmd.Flags()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pageprobe.yml)")
	flags.Bool("show-config", false, "Display current configuration in YAML format and exit")

	flags.StringP("output", "o", defaults.OutputPath, "Output JSON file")
	flags.String("archive", "", "SQLite file to archive every run into (disabled when empty)")
	flags.StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header, also used by the browser")
	flags.DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	flags.DurationP("delay", "r", defaults.RequestDelay, "Pause after each URL")
	flags.Bool("ignore-robots", false, "Do not consult robots.txt")
	flags.Bool("no-browser", false, "Disable the headless browser fallback")
	flags.String("browser-bin", "", "Chrome/Chromium binary for the fallback (looked up when empty)")
	flags.String("transport", defaults.Transport, "HTTP transport: standard, chrome-tls or cloudflare")
	flags.String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	flags.String("log-format", defaults.Log.Format, "Log format: json or text")
	flags.String("log-file", "", "Also write logs to this file (rotated)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"output_path", "output"},
		{"archive_path", "archive"},
		{"user_agent", "user-agent"},
		{"request_timeout", "timeout"},
		{"request_delay", "delay"},
		{"browser.bin", "browser-bin"},
		{"transport", "transport"},
		{"log.level", "log-level"},
		{"log.format", "log-format"},
		{"log.file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := v.BindPFlag(bind.viperKey, flags.Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}

	setDefaults(v, defaults)

	return rootCmd
}

// inputArgs requires the input file unless only the configuration is shown
func inputArgs(cmd *cobra.Command, args []string) error {
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return cobra.MaximumNArgs(1)(cmd, args)
	}
	return cobra.ExactArgs(1)(cmd, args)
}

// setDefaults registers every configuration key so that environment
// variables are honoured for keys without a flag
func setDefaults(v *viper.Viper, d *config.ProbeConfig) {
	v.SetDefault("output_path", d.OutputPath)
	v.SetDefault("archive_path", d.ArchivePath)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("request_delay", d.RequestDelay)
	v.SetDefault("respect_robots", d.RespectRobots)
	v.SetDefault("transport", d.Transport)

	v.SetDefault("auth.bearer.token", d.Auth.Bearer.Token)
	v.SetDefault("auth.bearer.token_env", d.Auth.Bearer.TokenEnv)

	v.SetDefault("ticker.host_marker", d.Ticker.HostMarker)
	v.SetDefault("ticker.placeholder", d.Ticker.Placeholder)
	v.SetDefault("ticker.endpoint", d.Ticker.Endpoint)

	v.SetDefault("browser.enabled", d.Browser.Enabled)
	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.no_sandbox", d.Browser.NoSandbox)
	v.SetDefault("browser.stealth", d.Browser.Stealth)
	v.SetDefault("browser.settle_delay", d.Browser.SettleDelay)
	v.SetDefault("browser.navigation_timeout", d.Browser.NavigationTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// initConfig reads .env, the config file and environment variables
func initConfig(v *viper.Viper, cfgFile string) error {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(configName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	return nil
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.ProbeConfig, error) {
	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if ignore, _ := cmd.Flags().GetBool("ignore-robots"); ignore {
		cfg.RespectRobots = false
	}
	if noBrowser, _ := cmd.Flags().GetBool("no-browser"); noBrowser {
		cfg.Browser.Enabled = false
	}
	cfg.Transport = strings.ToLower(cfg.Transport)

	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.ProbeConfig) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	shown := *cfg
	if cfg.Auth != nil && cfg.Auth.Bearer != nil && cfg.Auth.Bearer.Token != "" {
		bearer := *cfg.Auth.Bearer
		bearer.Token = maskedSecret
		shown.Auth = &config.Auth{Bearer: &bearer}
	}

	yamlData, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current PageProbe Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./%s.yml\n", configName)
	fmt.Fprintf(w, "# Environment variables prefix: %s_\n\n", envPrefix)

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (%s_ prefix, .env honoured)\n", envPrefix)
	fmt.Fprintf(w, "# 3. Configuration file (%s.yml)\n", configName)
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runProbe(cmd *cobra.Command, v *viper.Viper, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.InputPath = args[0]
	}

	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return showCurrentConfig(out, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err := logging.SetDefault(logging.FromProbeConfig(cfg.Log))
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	if _, err := os.Stat(cfg.InputPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "Input file not found: %s\n", cfg.InputPath)
		return nil
	}

	urls, err := probe.ReadURLList(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	p, err := newProbe(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	runner := probe.NewRunner(p.processor, cfg.RequestDelay)

	archive, runID := openArchive(cfg, len(urls))
	if archive != nil {
		defer func() { _ = archive.Close() }()
		runner.SetSink(archive.Sink(runID))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintln(out, report.Rule("="))
	results, runErr := runner.Run(ctx, urls, out)
	fmt.Fprintln(out, report.Rule("="))

	if archive != nil {
		finishArchive(archive, runID, runErr)
	}

	if err := report.WriteJSON(cfg.OutputPath, results); err != nil {
		return err
	}

	report.PrintSummary(out, results)
	fmt.Fprintf(out, "\nAll detailed results saved to %s\n", cfg.OutputPath)

	return runErr
}

// pipeline holds the components assembled for one run
type pipeline struct {
	client    *probe.HTTPClient
	processor *probe.PageProcessor
}

func (p *pipeline) close() {
	p.client.Close()
}

func newProbe(cfg *config.ProbeConfig) (*pipeline, error) {
	transport, err := probe.NewTransport(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	client := probe.NewHTTPClientWithTransport(cfg.UserAgent, cfg.RequestTimeout, transport)
	if token := cfg.GetBearerToken(); token != "" {
		client.SetBearerAuth(token)
		slog.Debug("Bearer authentication enabled")
	}

	var gate probe.PolicyGate = probe.AllowAllGate{}
	if cfg.RespectRobots {
		gate = probe.NewRobotsGate(client, cfg.UserAgent)
	} else {
		slog.Info("robots.txt checks disabled")
	}

	extra := make([]parser.Signature, 0, len(cfg.BlockSignatures))
	for _, sig := range cfg.BlockSignatures {
		extra = append(extra, parser.AllPhrases(sig.Label, sig.Phrases...))
	}

	renderer := render.NewBrowserRenderer(cfg.Browser, cfg.UserAgent)

	processor := probe.NewPageProcessor(
		client,
		gate,
		renderer,
		probe.NewTickerEndpoint(cfg.Ticker),
		parser.NewBlockDetector(extra...),
	)

	return &pipeline{client: client, processor: processor}, nil
}

// openArchive opens the run archive when configured. Failures are logged
// and leave the run without an archive.
func openArchive(cfg *config.ProbeConfig, urlCount int) (*storage.SQLiteStorage, int64) {
	if cfg.ArchivePath == "" {
		return nil, 0
	}

	store, err := storage.NewSQLiteStorage(cfg.ArchivePath)
	if err != nil {
		slog.Error("Failed to open run archive", "path", cfg.ArchivePath, "error", err)
		return nil, 0
	}

	runID, err := store.StartRun(cfg.InputPath, cfg.OutputPath, urlCount)
	if err != nil {
		slog.Error("Failed to start archived run", "path", cfg.ArchivePath, "error", err)
		_ = store.Close()
		return nil, 0
	}

	slog.Info("Archiving run", "path", cfg.ArchivePath, "run_id", runID)
	return store, runID
}

func finishArchive(store *storage.SQLiteStorage, runID int64, runErr error) {
	status := storage.RunCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		status = storage.RunCancelled
	case runErr != nil:
		status = storage.RunFailed
	}

	if err := store.FinishRun(runID, status); err != nil {
		slog.Error("Failed to finish archived run", "run_id", runID, "error", err)
	}
}
