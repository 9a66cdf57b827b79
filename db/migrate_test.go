package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("records every migration", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
		require.NoError(t, err)
		defer rows.Close()

		var versions []string
		for rows.Next() {
			var v string
			require.NoError(t, rows.Scan(&v))
			versions = append(versions, v)
		}
		assert.Equal(t, []string{"000", "001", "002", "003"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations twice should be safe")
	})

	t.Run("jobs table enforces type and status", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()
		require.NoError(t, Migrate(db, nil))

		_, err = db.Exec(`INSERT INTO jobs (id, type, input, created_at, updated_at) VALUES ('a', 'slow', 'x', 0, 0)`)
		assert.Error(t, err)

		_, err = db.Exec(`INSERT INTO jobs (id, type, input, status, created_at, updated_at) VALUES ('b', 'task', 'x', 'lost', 0, 0)`)
		assert.Error(t, err)

		_, err = db.Exec(`INSERT INTO jobs (id, type, input, created_at, updated_at) VALUES ('c', 'task', 'x', 0, 0)`)
		assert.NoError(t, err)
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})
}
