package tracker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boardwatch/internal/board"
)

var (
	e2 = board.MustParseSquare("e2")
	e4 = board.MustParseSquare("e4")
)

func legalOracle(legal bool) Oracle {
	return OracleFunc(func(Position, board.Square, board.Square) (bool, error) { return legal, nil })
}

func newTracker(t *testing.T, cfg Config, oracle Oracle) *Tracker {
	t.Helper()
	tr, err := New(cfg, oracle)
	require.NoError(t, err)
	return tr
}

// calibrate feeds the starting grid until the tracker would switch to tracking.
func calibrate(t *testing.T, tr *Tracker) {
	t.Helper()
	for i := 0; i < tr.Config().CalibrationTarget; i++ {
		res := tr.Tick(board.StartingGrid())
		require.Equal(t, NoEvent, res.Kind)
	}
}

// noResync returns defaults with periodic resync pushed out of the way.
func noResync() Config {
	cfg := DefaultConfig()
	cfg.ResyncPeriod = 1000
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResyncPeriod = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.BaseConfidence = 1.5
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.CalibrationTarget)
	assert.Equal(t, 3, cfg.ResyncPeriod)
	assert.Equal(t, 0.9, cfg.BaseConfidence)
	assert.Equal(t, 4, cfg.NoiseThreshold)
	assert.Equal(t, StartPlacement, cfg.StartPlacement)
	require.NoError(t, cfg.Validate())
}

func TestCalibration_SuppressesEvents(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), legalOracle(true))

	// Calibration scans may disagree wildly; none of them is a move.
	grids := []board.Grid{
		board.StartingGrid(),
		board.StartingGrid().Move(e2, e4),
		board.Grid{},
		board.StartingGrid().With(e4, true),
		board.StartingGrid(),
	}
	for i, g := range grids {
		res := tr.Tick(g)
		assert.Equal(t, NoEvent, res.Kind, "scan %d", i+1)
		if i < len(grids)-1 {
			assert.Equal(t, Calibrating, res.Mode, "scan %d", i+1)
		}
	}
	assert.Equal(t, Tracking, tr.State().Mode, "the completing scan switches to tracking")

	st := tr.State()
	assert.Equal(t, 5, st.ScanCount)
	assert.True(t, st.PreviousGrid.Equal(board.StartingGrid()), "last calibration scan is ground truth")
	assert.Equal(t, StartPlacement, st.PreviousPosition.Placement)
}

func TestZeroDiff_LeavesStateUntouched(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), nil)
	calibrate(t, tr)

	before := tr.State()
	for i := 0; i < 10; i++ {
		res := tr.Tick(board.StartingGrid())
		assert.Equal(t, NoEvent, res.Kind)
	}
	after := tr.State()
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(board.Grid{})); diff != "" {
		t.Errorf("state changed on zero-diff scans (-before +after):\n%s", diff)
	}
	assert.Equal(t, Tracking, after.Mode)
	assert.Equal(t, 5, after.ScanCount)
}

func TestTwoChangeDetection(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)

	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	require.Equal(t, Candidate, res.Kind)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, e2, res.Candidate.From)
	assert.Equal(t, e4, res.Candidate.To)
	assert.GreaterOrEqual(t, res.Candidate.Confidence, 0.9)
	assert.Equal(t, "e2e4", res.Candidate.UCI())
	assert.Equal(t, 2, res.Changes)
	assert.Empty(t, res.Diagnostics)

	// The baseline only moves on Confirm.
	st := tr.State()
	assert.True(t, st.PreviousGrid.Equal(board.StartingGrid()))
	require.NotNil(t, st.Pending)
	assert.Equal(t, *res.Candidate, st.Pending.Candidate)
}

func TestTwoChangeDetection_DefaultSchedule(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), nil)
	calibrate(t, tr)

	// Scan 6 lands on the resync period; a lone flicker there is absorbed.
	flicker := board.StartingGrid().With(board.MustParseSquare("d4"), true)
	res := tr.Tick(flicker)
	require.Equal(t, Resynced, res.Kind)
	assert.Equal(t, 6, res.Scan)

	res = tr.Tick(flicker.Move(e2, e4))
	require.Equal(t, Candidate, res.Kind)
	assert.Equal(t, 7, res.Scan)
	assert.Equal(t, "e2e4", res.Candidate.UCI())
}

func TestOracle_AdjustsConfidence(t *testing.T) {
	cfg := noResync()
	cfg.OraclePenalty = 0

	run := func(legal bool) float64 {
		tr := newTracker(t, cfg, legalOracle(legal))
		calibrate(t, tr)
		res := tr.Tick(board.StartingGrid().Move(e2, e4))
		require.Equal(t, Candidate, res.Kind)
		return res.Candidate.Confidence
	}

	legal, illegal := run(true), run(false)
	assert.InDelta(t, 1.0, legal, 1e-9)
	assert.InDelta(t, 0.9, illegal, 1e-9)
	assert.InDelta(t, 0.1, legal-illegal, 1e-9)
}

func TestOracle_Clamps(t *testing.T) {
	cfg := noResync()
	cfg.BaseConfidence = 0.95
	cfg.OracleBonus = 0.5
	cfg.OraclePenalty = 1

	tr := newTracker(t, cfg, legalOracle(true))
	calibrate(t, tr)
	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	assert.Equal(t, 1.0, res.Confidence)

	tr = newTracker(t, cfg, legalOracle(false))
	calibrate(t, tr)
	res = tr.Tick(board.StartingGrid().Move(e2, e4))
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, Candidate, res.Kind, "an illegal-looking candidate is still surfaced")
}

func TestOracle_DefaultPenalty(t *testing.T) {
	tr := newTracker(t, noResync(), legalOracle(false))
	calibrate(t, tr)
	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	require.Equal(t, Candidate, res.Kind)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestOracle_FailureKeepsBaseConfidence(t *testing.T) {
	var gotPos Position
	oracle := OracleFunc(func(pos Position, from, to board.Square) (bool, error) {
		gotPos = pos
		return false, errors.New("connection refused")
	})
	tr := newTracker(t, noResync(), oracle)
	calibrate(t, tr)

	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	require.Equal(t, Candidate, res.Kind)
	assert.Equal(t, 0.9, res.Confidence)
	assert.True(t, res.Has(OracleUnavailable))
	assert.Equal(t, StartPlacement, gotPos.Placement)
	assert.True(t, gotPos.Grid.Equal(board.StartingGrid()))
}

func TestPeriodicResync_NeverEmitsCandidate(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), legalOracle(true))
	calibrate(t, tr)

	// Scan 6 is a forced-resync index even though e2e4 is a clean move.
	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	assert.Equal(t, Resynced, res.Kind)
	assert.Nil(t, res.Candidate)
	assert.Equal(t, 0.3, res.Confidence)
	require.True(t, res.Has(ForcedResync))
	assert.Contains(t, res.Diagnostics[0].Detail, "masked e2e4")
	require.NotNil(t, res.Masked)
	assert.Equal(t, MoveCandidate{From: e2, To: e4, Confidence: 0.3}, *res.Masked)

	st := tr.State()
	assert.True(t, st.PreviousGrid.Equal(board.StartingGrid().Move(e2, e4)))
	assert.Equal(t, StartPlacement, st.PreviousPosition.Placement, "resync never rewrites the placement")
	assert.Nil(t, st.Pending)
}

func TestAmbiguousChanges(t *testing.T) {
	a3, b3, c3, d3 := board.MustParseSquare("a3"), board.MustParseSquare("b3"),
		board.MustParseSquare("c3"), board.MustParseSquare("d3")

	tests := []struct {
		name string
		grid board.Grid
		n    int
		want float64
	}{
		{"single", board.StartingGrid().With(a3, true), 1, 0.6},
		{"triple", board.StartingGrid().With(a3, true).With(b3, true).With(c3, true), 3, 0.5},
		{"quad", board.StartingGrid().With(a3, true).With(b3, true).With(c3, true).With(d3, true), 4, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(t, noResync(), legalOracle(true))
			calibrate(t, tr)

			res := tr.Tick(tt.grid)
			assert.Equal(t, Resynced, res.Kind)
			assert.Equal(t, tt.n, res.Changes)
			assert.Equal(t, tt.want, res.Confidence)
			assert.True(t, res.Has(AmbiguousChange))
			assert.True(t, tr.State().PreviousGrid.Equal(tt.grid))
		})
	}
}

func TestGeometricMismatch(t *testing.T) {
	tr := newTracker(t, noResync(), legalOracle(true))
	calibrate(t, tr)

	// Two pieces lifted at once: two changes, both vacancies.
	lifted := board.StartingGrid().With(e2, false).With(board.MustParseSquare("d2"), false)
	res := tr.Tick(lifted)
	assert.Equal(t, Resynced, res.Kind)
	assert.True(t, res.Has(GeometricMismatch))
	assert.Nil(t, res.Candidate)
}

func TestNoise_ForcesResyncAndOverflow(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)

	empty := board.Grid{}
	res := tr.Tick(empty)
	assert.Equal(t, Resynced, res.Kind)
	assert.Equal(t, 32, res.Changes)
	assert.Equal(t, 0.3, res.Confidence)
	assert.False(t, res.Has(DesyncOverflow))

	res = tr.Tick(board.StartingGrid())
	assert.False(t, res.Has(DesyncOverflow))
	res = tr.Tick(empty)
	assert.True(t, res.Has(DesyncOverflow), "third noisy scan in a row")
	assert.Equal(t, 3, tr.State().OverflowStreak)

	// A quiet scan clears the streak.
	tr.Tick(empty.With(e4, true))
	assert.Equal(t, 0, tr.State().OverflowStreak)
}

func TestRejection_Rollback(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), legalOracle(true))
	calibrate(t, tr)
	tr.Tick(board.StartingGrid().With(board.MustParseSquare("h3"), true)) // scan 6 resyncs
	base := tr.State()

	current := base.PreviousGrid.Move(e2, e4)
	first := tr.Tick(current)
	require.Equal(t, Candidate, first.Kind)

	tr.Confirm(false, nil)
	st := tr.State()
	assert.True(t, st.PreviousGrid.Equal(base.PreviousGrid))
	assert.Equal(t, base.PreviousPosition.Placement, st.PreviousPosition.Placement)
	assert.Nil(t, st.Pending)

	second := tr.Tick(current)
	require.Equal(t, Candidate, second.Kind)
	assert.Equal(t, *first.Candidate, *second.Candidate)
}

func TestRejection_SurvivesResyncIndex(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), legalOracle(true))
	calibrate(t, tr)
	tr.Tick(board.StartingGrid().With(board.MustParseSquare("h3"), true)) // scan 6 resyncs
	base := tr.State().PreviousGrid
	current := base.Move(e2, e4)

	// Scans 7 and 8 are rejected, scan 9 is a resync index.
	for scan := 7; scan <= 9; scan++ {
		res := tr.Tick(current)
		require.Equal(t, Candidate, res.Kind, "scan %d", scan)
		assert.Equal(t, scan, res.Scan)
		assert.Equal(t, "e2e4", res.Candidate.UCI())
		tr.Confirm(false, nil)
		assert.True(t, tr.State().PreviousGrid.Equal(base), "scan %d moved the baseline", scan)
	}

	// Unanswered candidates repeat the same way.
	res := tr.Tick(current)
	require.Equal(t, Candidate, res.Kind)
	res = tr.Tick(current)
	require.Equal(t, Candidate, res.Kind)
	assert.Equal(t, 11, res.Scan)

	// Once accepted, the resync schedule resumes.
	tr.Confirm(true, nil)
	assert.Nil(t, tr.State().Unconfirmed)
	res = tr.Tick(current.With(board.MustParseSquare("a3"), true))
	assert.Equal(t, Resynced, res.Kind)
	assert.True(t, res.Has(ForcedResync))
}

func TestConfirm_AcceptsOwnPrediction(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)

	moved := board.StartingGrid().Move(e2, e4)
	require.Equal(t, Candidate, tr.Tick(moved).Kind)
	tr.Confirm(true, nil)

	st := tr.State()
	assert.True(t, st.PreviousGrid.Equal(moved))
	assert.Equal(t, StartPlacement, st.PreviousPosition.Placement)
	assert.Nil(t, st.Pending)
	assert.Equal(t, NoEvent, tr.Tick(moved).Kind)
}

func TestConfirm_AdoptsAuthoritativePosition(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)
	require.Equal(t, Candidate, tr.Tick(board.StartingGrid().Move(e2, e4)).Kind)

	// The reply also carries the engine's e7e5.
	after := board.StartingGrid().Move(e2, e4).Move(board.MustParseSquare("e7"), board.MustParseSquare("e5"))
	pos := Position{Grid: after, Placement: "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"}
	tr.Confirm(true, &pos)

	st := tr.State()
	assert.True(t, st.PreviousGrid.Equal(after))
	assert.Equal(t, pos, st.PreviousPosition)
	assert.Equal(t, NoEvent, tr.Tick(after).Kind)
}

func TestConfirm_WithoutPending(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)
	tr.Tick(board.StartingGrid())
	before := tr.State()

	tr.Confirm(true, nil)
	assert.Equal(t, before, tr.State())
}

func TestConfirm_IgnoredWhileCalibrating(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), nil)
	tr.Tick(board.StartingGrid())
	before := tr.State()

	pos := Position{Grid: board.Grid{}, Placement: "8/8/8/8/8/8/8/8 w - - 0 1"}
	tr.Confirm(true, &pos)
	assert.Equal(t, before, tr.State())
}

func TestNewTick_SupersedesPending(t *testing.T) {
	tr := newTracker(t, noResync(), nil)
	calibrate(t, tr)
	require.Equal(t, Candidate, tr.Tick(board.StartingGrid().Move(e2, e4)).Kind)

	res := tr.Tick(board.StartingGrid().With(board.MustParseSquare("a3"), true))
	assert.Equal(t, Resynced, res.Kind)
	assert.Nil(t, tr.State().Pending)
}

func TestReset_ClearsDrift(t *testing.T) {
	tr := newTracker(t, DefaultConfig(), legalOracle(true))
	calibrate(t, tr)
	for i := 0; i < 20; i++ {
		g := board.Grid{}
		if i%2 == 0 {
			g = board.StartingGrid().Move(e2, e4)
		}
		tr.Tick(g)
	}
	require.Equal(t, Tracking, tr.State().Mode)

	tr.Reset()
	st := tr.State()
	assert.Equal(t, Calibrating, st.Mode)
	assert.Equal(t, 0, st.ScanCount)
	assert.Equal(t, 0, st.OverflowStreak)

	res := tr.Tick(board.StartingGrid().Move(e2, e4))
	assert.Equal(t, NoEvent, res.Kind)
	assert.Equal(t, Calibrating, res.Mode)
}

func TestReset_SingleScanCalibration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationTarget = 1
	tr := newTracker(t, cfg, nil)
	tr.Tick(board.StartingGrid())
	tr.Tick(board.Grid{})

	tr.Reset()
	assert.Equal(t, Calibrating, tr.State().Mode)
	res := tr.Tick(board.StartingGrid())
	assert.Equal(t, NoEvent, res.Kind)
	assert.Equal(t, Tracking, res.Mode)

	// The very next scan is already classified.
	res = tr.Tick(board.StartingGrid().Move(e2, e4))
	assert.Equal(t, Candidate, res.Kind, "scan 2 of period 3 is not a resync index")
}

func TestResult_String(t *testing.T) {
	c := MoveCandidate{From: e2, To: e4, Confidence: 1}
	assert.Equal(t, "scan 7: candidate e2e4 (conf 1.00)", Result{Kind: Candidate, Candidate: &c, Scan: 7}.String())
	assert.Equal(t, "scan 2: no event", Result{Scan: 2}.String())
	assert.Equal(t, "resynced", Resynced.String())
	assert.Equal(t, "desync_overflow", DesyncOverflow.String())
}

func TestResult_JSON(t *testing.T) {
	cand := MoveCandidate{From: e2, To: e4, Confidence: 1}
	in := Result{
		Kind:        Candidate,
		Confidence:  1,
		Candidate:   &cand,
		Changes:     2,
		Scan:        6,
		Mode:        Tracking,
		Diagnostics: []Diagnostic{{Kind: OracleUnavailable, Detail: "timeout"}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"candidate"`)
	assert.Contains(t, string(data), `"from":"e2"`)

	var out Result
	require.NoError(t, json.Unmarshal(data, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("dancing")))
}
