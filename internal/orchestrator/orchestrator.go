// Package orchestrator runs the game: it polls the sensor, feeds the tracker,
// sends confident candidates to the rules service, drives the arm through the
// reply and confirms the authoritative position back to the tracker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notnil/chess"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/config"
	"github.com/banshee-data/boardwatch/internal/db"
	"github.com/banshee-data/boardwatch/internal/feedback"
	"github.com/banshee-data/boardwatch/internal/monitoring"
	"github.com/banshee-data/boardwatch/internal/rules"
	"github.com/banshee-data/boardwatch/internal/sensor"
	"github.com/banshee-data/boardwatch/internal/timeutil"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

var logf = monitoring.Component("Orchestrator")

// ErrGameOver is returned by Step once the game has finished and until Reset.
var ErrGameOver = errors.New("game over")

// Rules judges a human move and returns the reply. Both *rules.Client and
// *rules.Service satisfy it.
type Rules interface {
	ValidateAndPredict(ctx context.Context, req rules.Request) (rules.Response, error)
}

// Arm performs the physical part of a reply. *motion.Arm satisfies it.
type Arm interface {
	Home(ctx context.Context) error
	ExecuteMove(ctx context.Context, from, to board.Square, capture bool) error
	RemovePiece(ctx context.Context, sq board.Square) error
}

// Store persists games, moves and scans. *db.DB satisfies it.
type Store interface {
	StartGame(now time.Time) (string, error)
	EndGame(id, outcome, fen string, now time.Time) error
	RecordMove(m db.Move) (db.Move, error)
	RecordScan(s db.Scan) error
}

// Settings are the orchestrator policy dials.
type Settings struct {
	AcceptanceThreshold float64
	ScanInterval        time.Duration
	RulesTimeout        time.Duration
	MaxRetries          int
	// SensorFailureLimit consecutive failed captures prompt the player to
	// check the camera.
	SensorFailureLimit int
	// HistorySize bounds the in-memory scan history behind the charts.
	HistorySize int
}

// SettingsFromTuning reads the orchestrator dials from cfg.
func SettingsFromTuning(cfg *config.TuningConfig) Settings {
	return Settings{
		AcceptanceThreshold: cfg.GetAcceptanceThreshold(),
		ScanInterval:        cfg.GetScanInterval(),
		RulesTimeout:        cfg.GetRulesTimeout(),
		MaxRetries:          cfg.GetMaxRetries(),
		SensorFailureLimit:  5,
		HistorySize:         200,
	}
}

// Deps are the collaborators. Arm, Store and Speaker may be nil: without an
// arm the player is asked to make the robot's moves by hand.
type Deps struct {
	Tracker *tracker.Tracker
	Sensor  sensor.Sensor
	Rules   Rules
	Arm     Arm
	Store   Store
	Speaker feedback.Speaker
	Clock   timeutil.Clock
}

// manualMove is a reply the arm did not play. The game continues once the
// board shows pos.
type manualMove struct {
	uci string
	pos tracker.Position
}

// Orchestrator owns one game session.
type Orchestrator struct {
	tracker  *tracker.Tracker
	sensor   sensor.Sensor
	rules    Rules
	arm      Arm
	store    Store
	narrator feedback.Narrator
	clock    timeutil.Clock
	set      Settings

	mu             sync.Mutex
	epoch          uint64
	gameID         string
	fen            string
	retries        int
	sensorFailures int
	over           bool
	outcome        string
	explanation    string
	awaiting       *manualMove
	last           *tracker.Result
	history        []HistoryPoint

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan Event
}

// New creates an orchestrator and starts the first game.
func New(d Deps, set Settings) (*Orchestrator, error) {
	if d.Tracker == nil || d.Sensor == nil || d.Rules == nil {
		return nil, errors.New("orchestrator needs a tracker, a sensor and a rules service")
	}
	if set.AcceptanceThreshold < 0 || set.AcceptanceThreshold > 1 {
		return nil, fmt.Errorf("acceptance threshold %v outside [0,1]", set.AcceptanceThreshold)
	}
	if set.ScanInterval <= 0 {
		return nil, fmt.Errorf("scan interval must be positive, got %v", set.ScanInterval)
	}
	if set.MaxRetries < 1 {
		set.MaxRetries = 1
	}
	if set.HistorySize < 1 {
		set.HistorySize = 200
	}
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	o := &Orchestrator{
		tracker:  d.Tracker,
		sensor:   d.Sensor,
		rules:    d.Rules,
		arm:      d.Arm,
		store:    d.Store,
		narrator: feedback.Narrator{Speaker: d.Speaker},
		clock:    d.Clock,
		set:      set,
		fen:      rules.StartFEN,
		subs:     make(map[int]chan Event),
	}
	o.gameID = o.startGame()
	return o, nil
}

func (o *Orchestrator) startGame() string {
	if o.store != nil {
		id, err := o.store.StartGame(o.clock.Now())
		if err == nil {
			return id
		}
		logf("failed to record new game: %v", err)
	}
	return uuid.NewString()
}

// Run greets the player, homes the arm and scans every ScanInterval until
// ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.narrator.GameStarted(ctx)
	if o.arm != nil {
		if err := o.arm.Home(ctx); err != nil {
			logf("failed to home arm: %v", err)
		}
	}
	ticker := o.clock.NewTicker(o.set.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := o.Step(ctx); err != nil && !errors.Is(err, ErrGameOver) {
				logf("scan: %v", err)
			}
		}
	}
}

// Step performs one scan: capture, classify and, for a confident candidate,
// the full rules/arm/confirm round trip.
func (o *Orchestrator) Step(ctx context.Context) (tracker.Result, error) {
	o.mu.Lock()
	if o.over {
		o.mu.Unlock()
		return tracker.Result{}, ErrGameOver
	}
	epoch := o.epoch
	awaiting := o.awaiting
	o.mu.Unlock()

	grid, err := o.sensor.Capture(ctx)
	if err != nil {
		return o.sensorFailed(ctx, err), err
	}
	o.mu.Lock()
	o.sensorFailures = 0
	o.mu.Unlock()

	if awaiting != nil && grid.Equal(awaiting.pos.Grid) {
		o.mu.Lock()
		if o.epoch == epoch {
			o.tracker.Confirm(true, &awaiting.pos)
			o.awaiting = nil
		}
		o.mu.Unlock()
		res := o.tracker.Tick(grid)
		o.record(res, "manual move "+awaiting.uci+" seen")
		return res, nil
	}

	prev := o.tracker.State().PreviousPosition
	res := o.tracker.Tick(grid)
	if res.Has(tracker.DesyncOverflow) {
		o.narrator.HoldStill(ctx)
	}

	if awaiting != nil {
		if res.Kind == tracker.Candidate {
			o.tracker.Confirm(false, nil)
		}
		o.record(res, "waiting for "+awaiting.uci)
		return res, nil
	}

	switch {
	case res.Kind == tracker.Candidate && res.Confidence < o.set.AcceptanceThreshold:
		o.tracker.Confirm(false, nil)
		o.record(res, "below acceptance threshold")
		return res, nil
	case res.Kind == tracker.Candidate:
		o.record(res, "")
		return res, o.submit(ctx, epoch, res.Candidate.UCI(), res.Confidence, nil)
	case res.Masked != nil:
		// The resync already absorbed the move; judge it anyway and put the
		// baseline back if it does not stand.
		uci := res.Masked.UCI()
		o.record(res, "masked move "+uci)
		return res, o.submit(ctx, epoch, uci, o.tracker.Config().BaseConfidence, &prev)
	case res.Has(tracker.AmbiguousChange):
		if uci, ok := o.inferMove(prev.Grid, grid); ok {
			o.record(res, "inferred move "+uci)
			return res, o.submit(ctx, epoch, uci, o.tracker.Config().BaseConfidence, &prev)
		}
	}
	o.record(res, "")
	return res, nil
}

func (o *Orchestrator) sensorFailed(ctx context.Context, err error) tracker.Result {
	st := o.tracker.State()
	res := tracker.Result{
		Kind:        tracker.NoEvent,
		Scan:        st.ScanCount,
		Mode:        st.Mode,
		Diagnostics: []tracker.Diagnostic{{Kind: tracker.SensorFailure, Detail: err.Error()}},
	}
	o.mu.Lock()
	o.sensorFailures++
	n := o.sensorFailures
	o.mu.Unlock()
	if n == o.set.SensorFailureLimit {
		logf("%d consecutive sensor failures", n)
		o.narrator.CameraDown(ctx)
	}
	o.record(res, "")
	return res
}

// inferMove recovers a capture, en passant or castling from a change that is
// not a plain two-square move, when exactly one legal move explains it.
func (o *Orchestrator) inferMove(prev, grid board.Grid) (string, bool) {
	changes := prev.Diff(grid)
	if changes.Len() == 0 || changes.Len() > 4 {
		return "", false
	}
	o.mu.Lock()
	fen := o.fen
	o.mu.Unlock()
	moves, err := rules.MovesForChange(fen, changes)
	if err != nil || len(moves) != 1 {
		return "", false
	}
	return moves[0], true
}

// restore puts a rolled-back baseline into the tracker unless a reset
// happened since the scan began.
func (o *Orchestrator) restore(epoch uint64, rollback *tracker.Position) {
	if rollback == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == epoch {
		o.tracker.Confirm(true, rollback)
	}
}

// submit sends uci to the rules service and applies the verdict. The tracker
// is only confirmed if no reset happened since the scan began. A move the
// tracker already absorbed passes the baseline it replaced as rollback; that
// baseline is restored when the move is not accepted so the next scan sees
// the change again.
func (o *Orchestrator) submit(ctx context.Context, epoch uint64, uci string, conf float64, rollback *tracker.Position) error {
	o.mu.Lock()
	fen := o.fen
	o.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, o.set.RulesTimeout)
	resp, err := o.rules.ValidateAndPredict(rctx, rules.Request{Move: uci, FEN: fen})
	cancel()
	if err != nil {
		// The tracker keeps its baseline; the next scan re-evaluates.
		o.restore(epoch, rollback)
		o.narrator.ServiceUnavailable(ctx)
		return fmt.Errorf("validate %s: %w", uci, err)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		logf("discarding verdict on %s from a previous game", uci)
		return nil
	}
	o.explanation = resp.Explanation
	if !resp.Valid {
		o.retries++
		retries := o.retries
		o.tracker.Confirm(false, nil)
		if rollback != nil {
			o.tracker.Confirm(true, rollback)
		}
		o.mu.Unlock()

		logf("%s rejected (%d/%d): %s", uci, retries, o.set.MaxRetries, resp.Explanation)
		o.publish(Event{Note: "rejected " + uci + ": " + resp.Explanation})
		o.narrator.Invalid(ctx, resp.Explanation)
		if retries >= o.set.MaxRetries {
			o.narrator.TooManyErrors(ctx)
			return o.Reset(ctx)
		}
		return nil
	}
	o.retries = 0
	gameID := o.gameID
	o.mu.Unlock()

	afterHumanFEN, err := rules.Apply(fen, uci)
	if err != nil {
		return fmt.Errorf("service accepted %s but it does not apply locally: %w", uci, err)
	}
	afterHuman, err := rules.PositionFromFEN(afterHumanFEN)
	if err != nil {
		return err
	}
	afterBoth, err := rules.PositionFromFEN(resp.FEN)
	if err != nil {
		return fmt.Errorf("service returned bad FEN: %w", err)
	}

	o.narrator.MoveValid(ctx, uci)
	o.recordMove(gameID, db.SideHuman, uci, afterHumanFEN, conf)

	played := true
	if resp.AIMove != "" {
		o.narrator.AIMove(ctx, resp.AIMove)
		played = o.playReply(ctx, afterHumanFEN, resp.AIMove)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		logf("game reset during reply %s, not confirming", resp.AIMove)
		return nil
	}
	o.fen = resp.FEN
	if played {
		o.tracker.Confirm(true, &afterBoth)
	} else {
		o.tracker.Confirm(true, &afterHuman)
		o.awaiting = &manualMove{uci: resp.AIMove, pos: afterBoth}
	}
	if resp.GameOver {
		o.over = true
		o.outcome = rules.Winner(chess.Outcome(resp.Outcome))
	}
	outcome := o.outcome
	o.mu.Unlock()

	note := "accepted " + uci
	if resp.AIMove != "" {
		o.recordMove(gameID, db.SideAI, resp.AIMove, resp.FEN, 1)
		note += ", reply " + resp.AIMove
	}
	o.publish(Event{Note: note})
	if !played {
		o.narrator.MakeMyMove(ctx, resp.AIMove)
	}
	if resp.GameOver {
		logf("game %s over: %s", gameID, outcome)
		if o.store != nil {
			if err := o.store.EndGame(gameID, outcome, resp.FEN, o.clock.Now()); err != nil {
				logf("failed to record game end: %v", err)
			}
		}
		o.narrator.GameOver(ctx, outcome)
	}
	return nil
}

// playReply drives the arm through the reply. It reports false when the
// player has to make the move instead.
func (o *Orchestrator) playReply(ctx context.Context, fen, uci string) bool {
	if o.arm == nil {
		return false
	}
	steps, err := rules.PlanMove(fen, uci)
	if err != nil {
		logf("cannot plan %s: %v", uci, err)
		return false
	}
	for _, st := range steps {
		switch st.Kind {
		case rules.StepRemove:
			err = o.arm.RemovePiece(ctx, st.From)
		default:
			err = o.arm.ExecuteMove(ctx, st.From, st.To, st.Capture)
		}
		if err != nil {
			logf("arm failed on %s: %v", uci, err)
			o.narrator.MotionFailed(ctx)
			return false
		}
	}
	return true
}

func (o *Orchestrator) recordMove(gameID string, side db.Side, uci, fen string, conf float64) {
	if o.store == nil {
		return
	}
	if _, err := o.store.RecordMove(db.Move{
		GameID:     gameID,
		Side:       side,
		UCI:        uci,
		FENAfter:   fen,
		Confidence: conf,
		RecordedAt: o.clock.Now(),
	}); err != nil {
		logf("failed to record %s move %s: %v", side, uci, err)
	}
}

// Reset abandons the current game: the tracker recalibrates, any verdict
// still in flight is discarded and the arm goes home.
func (o *Orchestrator) Reset(ctx context.Context) error {
	id := o.startGame()

	o.mu.Lock()
	o.epoch++
	o.tracker.Reset()
	oldID, oldFEN, wasOver := o.gameID, o.fen, o.over
	o.gameID = id
	o.fen = rules.StartFEN
	o.retries = 0
	o.sensorFailures = 0
	o.over = false
	o.outcome = ""
	o.explanation = ""
	o.awaiting = nil
	o.last = nil
	o.history = nil
	o.mu.Unlock()

	if o.store != nil && !wasOver {
		if err := o.store.EndGame(oldID, "abandoned", oldFEN, o.clock.Now()); err != nil {
			logf("failed to close game %s: %v", oldID, err)
		}
	}

	logf("game reset, new game %s", id)
	o.publish(Event{Note: "reset"})
	o.narrator.GameReset(ctx)
	if o.arm != nil {
		if err := o.arm.Home(ctx); err != nil {
			return fmt.Errorf("home after reset: %w", err)
		}
	}
	return nil
}
