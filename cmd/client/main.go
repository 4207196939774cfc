package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/filehaven/cmisync/internal/client"
	"github.com/filehaven/cmisync/internal/client/config"
	"github.com/filehaven/cmisync/internal/utils"
	"github.com/filehaven/cmisync/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "cmisync",
	Short:   "CmiSync keeps a local folder in sync with a CMIS repository",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:                  viper.ConfigFileUsed(),
			DataDir:               viper.GetString("data_dir"),
			ServerURL:             viper.GetString("server_url"),
			RepoID:                viper.GetString("repo_id"),
			RemoteRoot:            viper.GetString("remote_root"),
			Email:                 viper.GetString("email"),
			MaxChangesPerPage:     viper.GetInt("max_changes_per_page"),
			IgnoreSameLowercase:   viper.GetBool("ignore_same_lowercase_names"),
			PollInterval:          viper.GetDuration("poll_interval"),
			SyncAtStartup:         viper.GetBool("sync_at_startup"),
			DropFirstEventPerPage: config.DropFirstPolicy(viper.GetString("drop_first_event")),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		c, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("datadir", "d", config.DefaultDataDir, "local sync directory")
	rootCmd.Flags().StringP("server", "s", "", "repository server URL")
	rootCmd.Flags().StringP("repo", "r", "", "repository id")
	rootCmd.Flags().String("remote-root", "/", "repository folder to sync")
	rootCmd.Flags().StringP("email", "e", "", "account email")
	rootCmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "interval between sync passes")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
}

func main() {
	logFile := config.DefaultLogFile
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".cmisync"))
		viper.AddConfigPath(filepath.Join(home, ".config/cmisync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("repo_id", cmd.Flags().Lookup("repo"))
	viper.BindPFlag("remote_root", cmd.Flags().Lookup("remote-root"))
	viper.BindPFlag("email", cmd.Flags().Lookup("email"))
	viper.BindPFlag("poll_interval", cmd.Flags().Lookup("poll-interval"))

	viper.SetDefault("sync_at_startup", true)
	viper.SetEnvPrefix("CMISYNC")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(version.AppName + " " + version.Short())
}
