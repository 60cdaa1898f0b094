package metrics

import (
	"database/sql"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS states (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       at_ms             INTEGER NOT NULL,
	       total_mw          REAL NOT NULL CHECK (total_mw >= 0),
	       cpu_mw            REAL NOT NULL,
	       gpu_mw            REAL NOT NULL,
	       ane_mw            REAL NOT NULL,
	       memory_mw         REAL,
	       accessory_mw      REAL NOT NULL,
	       display_mw        REAL,
	       residual_mw       REAL NOT NULL CHECK (residual_mw >= 0),
	       hottest_c         REAL,
	       battery_pct       REAL,
	       charging          INTEGER NOT NULL CHECK (charging IN (0, 1)),
	       mem_available_pct REAL,
	       wakeups_per_s     REAL,
	       runway_hours      REAL,
	       windowed_hours    REAL,
	       window_minutes    INTEGER NOT NULL,
	       tier_memory       TEXT NOT NULL,
	       tier_thermal      TEXT NOT NULL,
	       tier_wakeups      TEXT NOT NULL,
	       tier_efficiency   TEXT NOT NULL,
	       rails_stale       INTEGER NOT NULL CHECK (rails_stale IN (0, 1)),
	       host_stale        INTEGER NOT NULL CHECK (host_stale IN (0, 1)),
	       shift_pct         REAL
	   );
	   CREATE INDEX IF NOT EXISTS states_at ON states (at_ms);
	   CREATE TABLE IF NOT EXISTS anomalies (
	       state_id       INTEGER NOT NULL REFERENCES states (id) ON DELETE CASCADE,
	       name           TEXT NOT NULL,
	       wakeups_per_s  REAL NOT NULL
	   );`

	insertStateSQL = `
    INSERT INTO states (
        at_ms,
        total_mw, cpu_mw, gpu_mw, ane_mw, memory_mw,
        accessory_mw, display_mw, residual_mw,
        hottest_c, battery_pct, charging, mem_available_pct, wakeups_per_s,
        runway_hours, windowed_hours, window_minutes,
        tier_memory, tier_thermal, tier_wakeups, tier_efficiency,
        rails_stale, host_stale, shift_pct
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertAnomalySQL = `
    INSERT INTO anomalies (state_id, name, wakeups_per_s) VALUES (?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
