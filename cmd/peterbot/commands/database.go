package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/am"
	"github.com/teranos/peterbot/db"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
)

// dbPathFlag overrides database.path for every command
var dbPathFlag string

// openDatabase opens and migrates the database. The --db-path flag wins over
// database.path from am.
func openDatabase(cfg *am.Config) (*sql.DB, string, error) {
	dbPath := dbPathFlag
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = "peterbot.db"
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, dbPath, nil
}

// loadConfig loads and validates am
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"),
			"run 'peterbot am show' to inspect the effective settings")
	}
	return cfg, nil
}

// AddPersistentFlags registers the flags every command shares
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	root.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON (overrides log.json)")
	root.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "SQLite database path (overrides database.path)")
}
