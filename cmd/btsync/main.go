package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/btsync/internal/config"
	"github.com/openmined/btsync/internal/utils"
	"github.com/openmined/btsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const envPrefix = "BRAINTRUST"

// consoleLevel is raised to Debug by --verbose.
var consoleLevel = new(slog.LevelVar)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "btsync",
		Short:         "Resumable bulk sync of project logs, experiments and datasets",
		Version:       version.Detailed(),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				consoleLevel.Set(slog.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().SortFlags = false
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "btsync config file")
	cmd.PersistentFlags().String("env-file", "", "load environment variables from this file (default $"+envPrefix+"_ENV_FILE)")
	cmd.PersistentFlags().String("api-key", "", "API key (default $"+envPrefix+"_API_KEY)")
	cmd.PersistentFlags().String("api-url", "", "API URL (default "+config.DefaultAPIURL+")")
	cmd.PersistentFlags().String("org", "", "organization name (default $"+envPrefix+"_ORG_NAME)")
	cmd.PersistentFlags().Bool("json", false, "print results as JSON")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	consoleLevel.Set(slog.LevelWarn)

	consoleHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      consoleLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	var fileOut io.Writer = io.Discard
	if err := utils.EnsureParent(config.DefaultLogFilePath); err == nil {
		logFile := &lumberjack.Logger{
			Filename:   config.DefaultLogFilePath,
			MaxSize:    10, // MiB
			MaxBackups: 3,
		}
		defer logFile.Close()
		fileOut = logFile
	}
	fileHandler := slog.NewTextHandler(fileOut, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error:"), err)
		stop()
		os.Exit(1)
	}
}

// loadConfig merges the config file, an optional .env file, BRAINTRUST_*
// environment variables and flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile == "" {
		envFile = os.Getenv(envPrefix + "_ENV_FILE")
	}
	if envFile != "" {
		// existing variables win over the file
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	for key, flag := range map[string]string{
		"api_key":  "api-key",
		"api_url":  "api-url",
		"org_name": "org",
	} {
		if f := cmd.Flag(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("api_url", config.DefaultAPIURL)

	cfg := &config.Config{
		APIKey:  v.GetString("api_key"),
		APIURL:  v.GetString("api_url"),
		OrgName: v.GetString("org_name"),
		Path:    configPath,
	}
	slog.Debug("config loaded", "path", configPath, "api_url", cfg.APIURL, "org", cfg.OrgName, "api_key", utils.MaskSecret(cfg.APIKey))
	return cfg, nil
}
