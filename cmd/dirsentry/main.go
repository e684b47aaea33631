// Package main is the CLI entry point for dirsentry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hara602/dirSentry/internal/config"
	"github.com/Hara602/dirSentry/internal/sysutil"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dirsentry",
	Short: "Protect a directory from destructive file opens",
	Long: `dirsentry blocks opens beneath a protected directory that would overwrite,
truncate or delete existing data, and reports every blocked attempt to a monitor.

Run "dirsentry agent" as root to host the interception point, then
"dirsentry monitor <directory>" to enable protection and watch blocked attempts.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dirsentry %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("socket", "", "agent socket path")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("port.socket", rootCmd.PersistentFlags().Lookup("socket"))

	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}
	c, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if err := sysutil.InitLogger(c.Log.Level); err != nil {
		return err
	}
	cfg = c
	return nil
}

func main() {
	err := rootCmd.Execute()
	sysutil.Log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
