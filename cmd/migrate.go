package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/labops/services/batch/config"
	"example.com/labops/services/batch/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}

		dbConn, err := db.Connect(&cfg.Database)
		if err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}

		if err := db.Migrate(dbConn); err != nil {
			logrus.Fatalf("Failed to run database migrations: %v", err)
		}

		logrus.Info("Database migrations completed")
	},
}
