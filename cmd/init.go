package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/stacia-study/rucsbot/rucsbot"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("database_type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"database not set (must be a valid database connection " +
					"string or sqlite file path)",
			)
		}

		db, err := rucsbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database, nil)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
