package metrics_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/classify"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/metrics"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(at time.Time) dashboard.State {
	return dashboard.State{
		At: at,
		Power: power.Breakdown{
			TotalMW:    12000,
			CPUMW:      4000,
			GPUMW:      1000,
			ComputeMW:  5000,
			ResidualMW: 7000,
		},
		HottestC:           snapshot.Measured(85),
		BatteryPct:         snapshot.Measured(64),
		MemoryAvailablePct: snapshot.Measured(25),
		WakeupsPerSec:      snapshot.Measured(1200),
		AllAnomalies: []dashboard.Anomaly{
			{Name: "Slack Helper", WakeupsPerSec: 450},
			{Name: "mds_stores", WakeupsPerSec: 180},
		},
		Runway: dashboard.Runways{
			Available:     true,
			Instant:       power.Runway{Hours: 4.2},
			Windowed:      power.Runway{Hours: 4.5},
			WindowMinutes: 10,
		},
		Tiers: dashboard.Tiers{
			Memory:     classify.Warning,
			Thermal:    classify.Critical,
			Wakeups:    classify.Critical,
			Efficiency: classify.Good,
		},
		PowerShift: &history.Shift{At: at, DeltaPct: 22.5},
	}
}

func openRecorder(t *testing.T, path string, batch int) metrics.Recorder {
	t.Helper()

	cfg := metrics.DefaultConfig(path)
	cfg.Enabled = true
	cfg.BatchSize = batch
	cfg.FlushInterval = time.Hour

	rec, err := metrics.NewRecorder(cfg, logger.Default())
	require.NoError(t, err)

	return rec
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRecorderWritesStates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	rec := openRecorder(t, path, 2)

	now := time.Now()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(ctx, testState(now.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, rec.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 3, countRows(t, db, "states"), "close flushes the partial batch")
	assert.Equal(t, 6, countRows(t, db, "anomalies"))

	var (
		total    float64
		memoryMW sql.NullFloat64
		hottest  sql.NullFloat64
		tier     string
		shift    sql.NullFloat64
	)
	require.NoError(t, db.QueryRow(
		"SELECT total_mw, memory_mw, hottest_c, tier_thermal, shift_pct FROM states ORDER BY id LIMIT 1",
	).Scan(&total, &memoryMW, &hottest, &tier, &shift))

	assert.InDelta(t, 12000.0, total, 1e-9)
	assert.False(t, memoryMW.Valid, "unmeasured rail stored as NULL")
	assert.True(t, hottest.Valid)
	assert.InDelta(t, 85.0, hottest.Float64, 1e-9)
	assert.Equal(t, string(classify.Critical), tier)
	assert.InDelta(t, 22.5, shift.Float64, 1e-9)
}

func TestRecorderRejectsAfterClose(t *testing.T) {
	rec := openRecorder(t, filepath.Join(t.TempDir(), "state.db"), 10)
	require.NoError(t, rec.Close())

	err := rec.Record(context.Background(), testState(time.Now()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrClosed))
}

func TestRecorderHonorsCancelledContext(t *testing.T) {
	rec := openRecorder(t, filepath.Join(t.TempDir(), "state.db"), 10)
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rec.Record(ctx, testState(time.Now()))
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
}

func TestDisabledRecorderIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	rec, err := metrics.NewRecorder(metrics.DefaultConfig(path), logger.Default())
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), testState(time.Now())))
	require.NoError(t, rec.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "disabled recorder never creates the database")
}

func TestSchemaMismatchBacksUpAndRecreates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
        CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
        INSERT INTO schema_versions VALUES (99, datetime('now'));
        CREATE TABLE states (legacy INTEGER);
    `)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	rec := openRecorder(t, path, 1)
	require.NoError(t, rec.Record(context.Background(), testState(time.Now())))
	require.NoError(t, rec.Close())

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "powerdash_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)
	assert.Equal(t, 1, countRows(t, db, "states"))
}

func TestConfigValidate(t *testing.T) {
	cfg := metrics.DefaultConfig("")
	assert.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	assert.True(t, errors.HasCode(cfg.Validate(), metrics.ErrInvalidDBPath))
}

func TestSinkSwallowsErrors(t *testing.T) {
	rec := openRecorder(t, filepath.Join(t.TempDir(), "state.db"), 10)
	require.NoError(t, rec.Close())

	sink := metrics.Sink(context.Background(), rec, logger.Default())
	assert.NotPanics(t, func() { sink(testState(time.Now())) })
}
