package rules

import (
	"context"
	"fmt"

	"github.com/notnil/chess"

	"github.com/banshee-data/boardwatch/internal/monitoring"
)

var logf = monitoring.Component("Rules")

// Request is the validate_and_predict payload.
type Request struct {
	Move string `json:"move"`
	FEN  string `json:"fen,omitempty"`
}

// Response reports the verdict on the human move and the engine's reply.
// FEN is the position after both moves when valid, the unchanged input
// otherwise. AIMove is empty when the game ended on the human move or the
// engine had nothing to play.
type Response struct {
	Valid       bool   `json:"valid"`
	AIMove      string `json:"ai_move,omitempty"`
	FEN         string `json:"fen"`
	GameOver    bool   `json:"game_over"`
	Outcome     string `json:"outcome,omitempty"`
	Explanation string `json:"explanation"`
}

// Mover picks a reply in a position.
type Mover interface {
	BestMove(ctx context.Context, pos *chess.Position) (*chess.Move, error)
}

// Explanations returned to the player.
const (
	MsgAccepted     = "Move accepted."
	MsgBadFormat    = "Invalid UCI format, use 'e2e4' style."
	MsgPawnRetreat  = "Pawns can't retreat, advance only."
	MsgIllegal      = "Blocked path or illegal for piece type."
	MsgAIPassed     = " AI passed, your advantage!"
	MsgAIAdjusted   = " AI adjusted to legal move."
	MsgAIAlternate  = " AI selected safe alternative."
	aiCounterFormat = " AI counters with %s."
)

// Service validates human moves and asks a Mover for the reply.
type Service struct {
	mover Mover
}

// NewService creates a service. mover may be nil, in which case the first
// legal move is played.
func NewService(mover Mover) *Service {
	return &Service{mover: mover}
}

// ValidateAndPredict judges req.Move in req.FEN. The error is non-nil only
// when the FEN itself cannot be parsed.
func (s *Service) ValidateAndPredict(ctx context.Context, req Request) (Response, error) {
	game, err := GameFromFEN(req.FEN)
	if err != nil {
		return Response{}, err
	}
	fen := game.Position().String()
	resp := Response{FEN: fen}

	pos := game.Position()
	decoded, err := chess.UCINotation{}.Decode(pos, req.Move)
	if err != nil {
		resp.Explanation = MsgBadFormat
		return resp, nil
	}
	move := findMove(pos, decoded.S1(), decoded.S2(), decoded.Promo())
	if move == nil {
		resp.Explanation = "Invalid: " + illegalReason(pos, decoded)
		logf("rejected %s in %s", req.Move, fen)
		return resp, nil
	}
	if err := game.Move(move); err != nil {
		resp.Explanation = "Invalid: " + MsgIllegal
		return resp, nil
	}

	resp.Valid = true
	resp.Explanation = MsgAccepted
	if game.Outcome() != chess.NoOutcome {
		return s.finish(game, resp), nil
	}

	reply, note := s.reply(ctx, game.Position())
	if reply == nil {
		resp.Explanation += MsgAIPassed
		return s.finish(game, resp), nil
	}
	resp.AIMove = chess.UCINotation{}.Encode(game.Position(), reply)
	if err := game.Move(reply); err != nil {
		return Response{}, fmt.Errorf("apply reply %s: %w", resp.AIMove, err)
	}
	if note == "" {
		note = fmt.Sprintf(aiCounterFormat, resp.AIMove)
	}
	resp.Explanation += note
	return s.finish(game, resp), nil
}

// reply asks the mover for a move and falls back to the first legal move
// when the mover fails or suggests something illegal.
func (s *Service) reply(ctx context.Context, pos *chess.Position) (*chess.Move, string) {
	legal := pos.ValidMoves()
	if len(legal) == 0 {
		return nil, ""
	}
	if s.mover == nil {
		return legal[0], ""
	}
	m, err := s.mover.BestMove(ctx, pos)
	if err != nil {
		logf("engine failed, falling back: %v", err)
		return legal[0], MsgAIAlternate
	}
	if m == nil {
		return nil, ""
	}
	if found := findMove(pos, m.S1(), m.S2(), m.Promo()); found != nil {
		return found, ""
	}
	logf("engine suggested illegal %s%s, falling back", m.S1(), m.S2())
	return legal[0], MsgAIAdjusted
}

func (s *Service) finish(game *chess.Game, resp Response) Response {
	resp.FEN = game.Position().String()
	if outcome := game.Outcome(); outcome != chess.NoOutcome {
		resp.GameOver = true
		resp.Outcome = string(outcome)
		resp.Explanation += fmt.Sprintf(" Game over: %s by %s.", Winner(outcome), game.Method())
	}
	return resp
}

// illegalReason explains why m is not legal in pos.
func illegalReason(pos *chess.Position, m *chess.Move) string {
	piece := pos.Board().Piece(m.S1())
	if piece.Type() == chess.Pawn {
		backwards := m.S2().Rank() < m.S1().Rank()
		if piece.Color() == chess.Black {
			backwards = m.S2().Rank() > m.S1().Rank()
		}
		if backwards {
			return MsgPawnRetreat
		}
	}
	return MsgIllegal
}
