package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "boardwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)
	migFS, err := getMigrationsFS()
	require.NoError(t, err)

	latest, err := LatestMigrationVersion(migFS)
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion(migFS)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, version)

	// Up again is a no-op.
	require.NoError(t, db.MigrateUp(migFS))

	require.NoError(t, db.MigrateDown(migFS))
	version, _, err = db.MigrateVersion(migFS)
	require.NoError(t, err)
	assert.Equal(t, latest-1, version)
	_, err = db.Exec("SELECT COUNT(*) FROM scans")
	assert.Error(t, err, "scans table dropped")
}

func TestLatestMigrationVersion_Empty(t *testing.T) {
	_, err := LatestMigrationVersion(fstest.MapFS{})
	assert.Error(t, err)
}

func TestMigrateVersion_FreshDB(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	migFS := fstest.MapFS{
		"000001_init.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE t1 (id INTEGER PRIMARY KEY);")},
		"000001_init.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE t1;")},
	}
	version, dirty, err := db.MigrateVersion(migFS)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestGames(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := db.StartGame(start)
	require.NoError(t, err)
	second, err := db.StartGame(start.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, db.EndGame(first, "black wins by checkmate", "fen", start.Add(30*time.Minute)))

	g, err := db.GetGame(first)
	require.NoError(t, err)
	assert.Equal(t, start, g.StartedAt)
	require.NotNil(t, g.EndedAt)
	assert.Equal(t, start.Add(30*time.Minute), *g.EndedAt)
	assert.Equal(t, "black wins by checkmate", g.Outcome)

	games, err := db.Games(10)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, second, games[0].ID, "newest first")
	assert.Nil(t, games[0].EndedAt)

	_, err = db.GetGame("missing")
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.ErrorIs(t, db.EndGame("missing", "", "", start), ErrGameNotFound)
}

func TestMoves(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := db.StartGame(now)
	require.NoError(t, err)

	m1, err := db.RecordMove(Move{GameID: id, Side: SideHuman, UCI: "e2e4", Confidence: 1, RecordedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 1, m1.Ply)
	m2, err := db.RecordMove(Move{GameID: id, Side: SideAI, UCI: "e7e5", RecordedAt: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 2, m2.Ply)

	moves, err := db.Moves(id)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "e2e4", moves[0].UCI)
	assert.Equal(t, SideAI, moves[1].Side)
	assert.Equal(t, now.Add(time.Second), moves[1].RecordedAt)

	_, err = db.RecordMove(Move{GameID: "no-such-game", Side: SideHuman, UCI: "e2e4", RecordedAt: now})
	assert.Error(t, err, "foreign key")
}

func TestScansAndConfidence(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := db.StartGame(now)
	require.NoError(t, err)

	sum, err := db.CandidateConfidence(id)
	require.NoError(t, err)
	assert.Zero(t, sum.Count)

	for i, c := range []float64{1.0, 0.8, 0.6} {
		require.NoError(t, db.RecordScan(Scan{GameID: id, Scan: i + 1, Kind: "candidate", Confidence: c, Changes: 2, Candidate: "e2e4", RecordedAt: now}))
	}
	require.NoError(t, db.RecordScan(Scan{GameID: id, Scan: 4, Kind: "resynced", Confidence: 0.3, Changes: 5, Diagnostics: "forced_resync", RecordedAt: now}))

	scans, err := db.RecentScans(id, 2)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, 3, scans[0].Scan)
	assert.Equal(t, "forced_resync", scans[1].Diagnostics)

	sum, err = db.CandidateConfidence(id)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.InDelta(t, 0.8, sum.Mean, 1e-9)
	assert.InDelta(t, 0.2, sum.StdDev, 1e-9)
	assert.Equal(t, 0.6, sum.Min)
	assert.Equal(t, 1.0, sum.Max)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
