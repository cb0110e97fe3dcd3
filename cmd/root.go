package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/labops/services/batch/config"
)

var (
	// Flags
	cfgFile string
	debug   bool

	// Root command
	rootCmd = &cobra.Command{
		Use:   "batch-service",
		Short: "Batch Production Service",
		Long: `Batch Production Service for lot-tracked inventory and production runs.

Functions:
- Keep lot-level on-hand quantities consistent through an append-only inventory ledger
- Drive production batches through their lifecycle from draft to completion
- Bake hand-drawn annotation overlays onto master documents into signed artifacts
- Archive completed batches with a point-in-time folder path snapshot
- Open and complete work orders in the cloud ERP`,
	}
)

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// initConfig initializes configuration and logging
func initConfig() {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
