package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// ErrGameNotFound is returned for an unknown game ID.
var ErrGameNotFound = errors.New("game not found")

// Side records who made a move.
type Side string

const (
	SideHuman Side = "human"
	SideAI    Side = "ai"
)

type Game struct {
	ID        string     `json:"game_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	FinalFEN  string     `json:"final_fen,omitempty"`
}

type Move struct {
	ID         int64     `json:"move_id"`
	GameID     string    `json:"game_id"`
	Ply        int       `json:"ply"`
	Side       Side      `json:"side"`
	UCI        string    `json:"uci"`
	FENAfter   string    `json:"fen_after"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Scan is one tracker result worth keeping: emitted candidates and any scan
// that carried diagnostics.
type Scan struct {
	ID          int64     `json:"scan_id"`
	GameID      string    `json:"game_id"`
	Scan        int       `json:"scan"`
	Kind        string    `json:"kind"`
	Confidence  float64   `json:"confidence"`
	Changes     int       `json:"changes"`
	Candidate   string    `json:"candidate,omitempty"`
	Diagnostics string    `json:"diagnostics,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// StartGame creates a game and returns its ID.
func (db *DB) StartGame(now time.Time) (string, error) {
	id := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO games (game_id, started_unix) VALUES (?, ?)`, id, unixSeconds(now)); err != nil {
		return "", fmt.Errorf("start game: %w", err)
	}
	return id, nil
}

// EndGame stamps the outcome on a game.
func (db *DB) EndGame(id, outcome, fen string, now time.Time) error {
	res, err := db.Exec(`UPDATE games SET ended_unix = ?, outcome = ?, final_fen = ? WHERE game_id = ?`,
		unixSeconds(now), outcome, fen, id)
	if err != nil {
		return fmt.Errorf("end game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return nil
}

// GetGame loads one game.
func (db *DB) GetGame(id string) (*Game, error) {
	row := db.QueryRow(`SELECT game_id, started_unix, ended_unix, outcome, final_fen FROM games WHERE game_id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return g, err
}

// Games lists the most recent games first.
func (db *DB) Games(limit int) ([]Game, error) {
	rows, err := db.Query(`SELECT game_id, started_unix, ended_unix, outcome, final_fen FROM games
		ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(r rowScanner) (*Game, error) {
	var (
		g       Game
		started float64
		ended   sql.NullFloat64
	)
	if err := r.Scan(&g.ID, &started, &ended, &g.Outcome, &g.FinalFEN); err != nil {
		return nil, err
	}
	g.StartedAt = fromUnix(started)
	if ended.Valid {
		t := fromUnix(ended.Float64)
		g.EndedAt = &t
	}
	return &g, nil
}

// RecordMove appends a move; the ply is assigned from the game's move count.
func (db *DB) RecordMove(m Move) (Move, error) {
	tx, err := db.Begin()
	if err != nil {
		return m, err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`SELECT COUNT(*) FROM moves WHERE game_id = ?`, m.GameID).Scan(&m.Ply); err != nil {
		return m, err
	}
	m.Ply++
	res, err := tx.Exec(`INSERT INTO moves (game_id, ply, side, uci, fen_after, confidence, recorded_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.GameID, m.Ply, string(m.Side), m.UCI, m.FENAfter, m.Confidence, unixSeconds(m.RecordedAt))
	if err != nil {
		return m, fmt.Errorf("record move: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// Moves returns a game's moves in play order.
func (db *DB) Moves(gameID string) ([]Move, error) {
	rows, err := db.Query(`SELECT move_id, game_id, ply, side, uci, fen_after, confidence, recorded_unix
		FROM moves WHERE game_id = ? ORDER BY ply`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		var (
			m    Move
			side string
			at   float64
		)
		if err := rows.Scan(&m.ID, &m.GameID, &m.Ply, &side, &m.UCI, &m.FENAfter, &m.Confidence, &at); err != nil {
			return nil, err
		}
		m.Side = Side(side)
		m.RecordedAt = fromUnix(at)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// RecordScan stores one scan result.
func (db *DB) RecordScan(s Scan) error {
	_, err := db.Exec(`INSERT INTO scans (game_id, scan, kind, confidence, changes, candidate, diagnostics, recorded_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.GameID, s.Scan, s.Kind, s.Confidence, s.Changes, s.Candidate, s.Diagnostics, unixSeconds(s.RecordedAt))
	if err != nil {
		return fmt.Errorf("record scan: %w", err)
	}
	return nil
}

// RecentScans returns up to limit scans of a game, oldest first.
func (db *DB) RecentScans(gameID string, limit int) ([]Scan, error) {
	rows, err := db.Query(`SELECT scan_id, game_id, scan, kind, confidence, changes, candidate, diagnostics, recorded_unix
		FROM (SELECT * FROM scans WHERE game_id = ? ORDER BY scan_id DESC LIMIT ?) ORDER BY scan_id`, gameID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		var (
			s  Scan
			at float64
		)
		if err := rows.Scan(&s.ID, &s.GameID, &s.Scan, &s.Kind, &s.Confidence, &s.Changes, &s.Candidate, &s.Diagnostics, &at); err != nil {
			return nil, err
		}
		s.RecordedAt = fromUnix(at)
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// ConfidenceSummary describes the confidences of a game's emitted candidates.
type ConfidenceSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// CandidateConfidence summarises the confidence of every candidate scan
// recorded for gameID.
func (db *DB) CandidateConfidence(gameID string) (ConfidenceSummary, error) {
	rows, err := db.Query(`SELECT confidence FROM scans WHERE game_id = ? AND kind = 'candidate'`, gameID)
	if err != nil {
		return ConfidenceSummary{}, err
	}
	defer rows.Close()

	var xs []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return ConfidenceSummary{}, err
		}
		xs = append(xs, c)
	}
	if err := rows.Err(); err != nil {
		return ConfidenceSummary{}, err
	}

	sum := ConfidenceSummary{Count: len(xs)}
	if len(xs) == 0 {
		return sum, nil
	}
	sum.Min, sum.Max = xs[0], xs[0]
	for _, x := range xs[1:] {
		sum.Min = min(sum.Min, x)
		sum.Max = max(sum.Max, x)
	}
	if len(xs) == 1 {
		sum.Mean = xs[0]
		return sum, nil
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(xs, nil)
	return sum, nil
}
