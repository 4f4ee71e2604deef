package orchestrator

import (
	"strings"
	"time"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/db"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

// Event is published after every scan and on game-level changes. Result is
// nil for the latter.
type Event struct {
	Time   time.Time       `json:"time"`
	GameID string          `json:"game_id"`
	Result *tracker.Result `json:"result,omitempty"`
	Note   string          `json:"note,omitempty"`
}

// HistoryPoint is one scan in the rolling history.
type HistoryPoint struct {
	Time       time.Time          `json:"time"`
	Scan       int                `json:"scan"`
	Kind       tracker.ResultKind `json:"kind"`
	Confidence float64            `json:"confidence"`
	Changes    int                `json:"changes"`
}

// Status is a point-in-time view of the session.
type Status struct {
	GameID       string          `json:"game_id"`
	Mode         tracker.Mode    `json:"mode"`
	ScanCount    int             `json:"scan_count"`
	Grid         board.Grid      `json:"grid"`
	FEN          string          `json:"fen"`
	LastResult   *tracker.Result `json:"last_result,omitempty"`
	Retries      int             `json:"retries"`
	GameOver     bool            `json:"game_over"`
	Outcome      string          `json:"outcome,omitempty"`
	Explanation  string          `json:"explanation,omitempty"`
	AwaitingMove string          `json:"awaiting_move,omitempty"`
}

// Status returns the current session state.
func (o *Orchestrator) Status() Status {
	st := o.tracker.State()
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		GameID:      o.gameID,
		Mode:        st.Mode,
		ScanCount:   st.ScanCount,
		Grid:        st.PreviousGrid,
		FEN:         o.fen,
		Retries:     o.retries,
		GameOver:    o.over,
		Outcome:     o.outcome,
		Explanation: o.explanation,
	}
	if o.last != nil {
		last := *o.last
		s.LastResult = &last
	}
	if o.awaiting != nil {
		s.AwaitingMove = o.awaiting.uci
	}
	return s
}

// GameID returns the current game's ID.
func (o *Orchestrator) GameID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gameID
}

// History returns the recent scans, oldest first.
func (o *Orchestrator) History() []HistoryPoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]HistoryPoint(nil), o.history...)
}

// record keeps res as the latest result, appends it to the history, stores
// the interesting ones and publishes it.
func (o *Orchestrator) record(res tracker.Result, note string) {
	now := o.clock.Now()
	o.mu.Lock()
	o.last = &res
	o.history = append(o.history, HistoryPoint{
		Time:       now,
		Scan:       res.Scan,
		Kind:       res.Kind,
		Confidence: res.Confidence,
		Changes:    res.Changes,
	})
	if over := len(o.history) - o.set.HistorySize; over > 0 {
		o.history = append(o.history[:0:0], o.history[over:]...)
	}
	gameID := o.gameID
	o.mu.Unlock()

	if res.Kind != tracker.NoEvent || len(res.Diagnostics) > 0 {
		logf("%s %s", res, note)
	}
	if o.store != nil && (res.Kind == tracker.Candidate || len(res.Diagnostics) > 0) {
		scan := db.Scan{
			GameID:      gameID,
			Scan:        res.Scan,
			Kind:        res.Kind.String(),
			Confidence:  res.Confidence,
			Changes:     res.Changes,
			Diagnostics: diagnosticNames(res.Diagnostics),
			RecordedAt:  now,
		}
		switch {
		case res.Candidate != nil:
			scan.Candidate = res.Candidate.UCI()
		case res.Masked != nil:
			scan.Candidate = res.Masked.UCI()
		}
		if err := o.store.RecordScan(scan); err != nil {
			logf("failed to record scan %d: %v", res.Scan, err)
		}
	}
	o.publish(Event{Time: now, GameID: gameID, Result: &res, Note: note})
}

func diagnosticNames(ds []tracker.Diagnostic) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Kind.String()
	}
	return strings.Join(names, ",")
}

// Subscribe returns a channel of events. Slow subscribers miss events rather
// than stall the scan loop.
func (o *Orchestrator) Subscribe() (int, <-chan Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.nextSub++
	ch := make(chan Event, 32)
	o.subs[o.nextSub] = ch
	return o.nextSub, ch
}

// Unsubscribe closes and forgets a subscription.
func (o *Orchestrator) Unsubscribe(id int) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if ch, ok := o.subs[id]; ok {
		close(ch)
		delete(o.subs, id)
	}
}

func (o *Orchestrator) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = o.clock.Now()
	}
	if e.GameID == "" {
		e.GameID = o.GameID()
	}
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
