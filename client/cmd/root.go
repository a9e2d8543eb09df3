package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/client/ui"
	"github.com/perchlabs/perch/client/ui/config"
	"github.com/perchlabs/perch/util"
	"github.com/perchlabs/perch/version"
)

var (
	configPath string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:          "perch",
	Short:        "Menu-bar companion for your worker sessions",
	Long:         "Perch lives in the menu bar, shows what your worker sessions are doing and keeps itself up to date.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFile != "" {
			cfg.LogFile = logFile
		}

		if err := util.InitLog(cfg.LogLevel, cfg.LogFile); err != nil {
			return err
		}

		ui.Run(cfg)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.PerchVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the client config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", `override the configured log file, use "console" for stderr`)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
