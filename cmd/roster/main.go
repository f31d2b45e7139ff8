package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/app"
	"github.com/ternarybob/roster/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	username     = flag.String("username", "", "Account username (overrides config and TWITTER_USERNAME)")
	usernameU    = flag.String("u", "", "Account username (shorthand)")
	password     = flag.String("password", "", "Account password (overrides config and TWITTER_PASSWORD)")
	passwordP    = flag.String("p", "", "Account password (shorthand)")
	fetchUser    = flag.String("user", "", "Account whose following list is harvested (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Roster version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("roster.toml"); err == nil {
			configFiles = append(configFiles, "roster.toml")
		}
	}

	// 1. Load config (defaults -> files -> env), then CLI overrides
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, firstNonEmpty(*usernameU, *username), firstNonEmpty(*passwordP, *password), *fetchUser)

	// 2. Logger and banner
	logger := common.InitLogger(config)
	common.PrintBanner()

	if err := config.Validate(); err != nil {
		logger.Error().Err(err).Msg("Configuration is not usable")
		os.Exit(2)
	}

	logger.Info().
		Strs("config_files", configFiles).
		Int("drivers", config.Drivers.Count).
		Int("base_port", config.Drivers.BasePort).
		Str("fetch_username", config.Fetch.FetchUsername).
		Str("log_level", config.Logging.Level).
		Msg("Configuration loaded")

	if err := run(config, logger); err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

// run owns the application lifetime so the automation servers are shut down on
// every return path, including interrupts
func run(config *common.Config, logger arbor.ILogger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, config, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	summary, err := application.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("Interrupt signal received, stopping")
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("run_id", summary.RunID).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Msg("Roster run complete")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
