package cmd

import (
	"strings"

	"github.com/Iron-Ham/foreman/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Staged workflow orchestrator for autonomous workers",
	Long: `Foreman drives multi-stage workflows in which each execution stage is
handed to an autonomous worker and judged by a validator. Rejected work is
sent back with corrective feedback, and pipelines that cannot make progress
are escalated to an operator.

Run a single pipeline in the foreground with 'foreman run', or start the
long-lived orchestrator with 'foreman serve' and drive it with the remote
commands (launch, ls, watch, abort, resume, escalate).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/foreman/config.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "directory holding snapshots, the lock and logs (default .foreman)")
	rootCmd.PersistentFlags().String("addr", "", "address of the foreman server (default 127.0.0.1:7420)")
	rootCmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("pipeline.state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".foreman")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FOREMAN")
	// FOREMAN_EXECUTOR_COMMAND sets executor.command
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
