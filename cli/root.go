// Package cli implements the wincore-engine binary's subcommands for
// one-shot and continuous polling, status/config reporting, connectivity
// testing, retention cleanup, and schema migration. Configuration
// precedence is flags > environment > config file > defaults.
package cli

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wincore.dev/engine/common"
)

var cfgFile string

// RootCmd is the wincore-engine entry point.
var RootCmd = &cobra.Command{
	Use:   "wincore-engine",
	Short: "polls JFrog Artifactory for new builds, downloads and extracts them",
	Long: `wincore-engine polls a catalog of (component, branch) tuples against
JFrog Artifactory, downloads the newest build of each, extracts it to a
canonical on-disk layout, and retains a configurable number of recent
builds per tuple.

Configuration is read from SystemConfig rows in PostgreSQL, with a small
set of WINCORE_* environment variables able to override the values that
matter before the database is even reachable.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.wincore.yaml)")
	RootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL connection string")

	viper.BindPFlag("db_dsn", RootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("db_dsn", "WINCORE_DB_DSN")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".wincore")
	}

	viper.SetEnvPrefix("WINCORE")
	viper.AutomaticEnv()

	logCfg := common.DefaultLoggerConfig()
	logCfg.Level = common.LogLevel(common.GetEnv("WINCORE_LOG_LEVEL", string(logCfg.Level)))
	logCfg.Format = common.GetEnv("WINCORE_LOG_FORMAT", logCfg.Format)
	logCfg.Service = "wincore-engine"
	common.Logger = common.NewLogger(logCfg)

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// dbDSN resolves the configured PostgreSQL connection string.
func dbDSN() string {
	return viper.GetString("db_dsn")
}
