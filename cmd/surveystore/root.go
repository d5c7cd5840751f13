package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nainya/surveystore/internal/config"
)

// Set at build time with -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

var (
	configPath string
	settings   = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "surveystore",
	Short: "Versioned survey store",
	Long: `surveystore keeps every edit of a survey as a new immutable version.
Versions form a parent/child lineage per organization; restores append a new
minor version on top of the current latest instead of rewinding history.`,
	Version:       buildVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("surveystore version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: ./surveystore.yaml or /etc/surveystore/surveystore.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "Human-readable console logs")
	flags.String("storage-driver", config.DriverBadger, "Storage backend: memory, badger, sqlite")
	flags.String("storage-path", "surveystore-data", "Badger directory or SQLite file")

	bindFlag(settings, "logging.level", "log-level")
	bindFlag(settings, "logging.pretty", "log-pretty")
	bindFlag(settings, "storage.driver", "storage-driver")
	bindFlag(settings, "storage.path", "storage-path")
}

func bindFlag(v *viper.Viper, key, flag string) {
	// Lookup cannot fail for flags registered above.
	_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
}

func loadConfig() (*config.Config, error) {
	return config.Load(settings, configPath)
}
