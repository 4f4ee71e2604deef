// Package feedback tells the player what the robot saw and is about to do,
// through the log and optionally a speech synthesiser.
package feedback

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/banshee-data/boardwatch/internal/monitoring"
)

var logf = monitoring.Component("Voice")

// Speaker says one line of text. Implementations must not block the caller
// longer than the utterance takes.
type Speaker interface {
	Say(ctx context.Context, text string)
}

// LogSpeaker writes every line to the component log.
type LogSpeaker struct{}

func (LogSpeaker) Say(_ context.Context, text string) { logf("%s", text) }

// Espeak runs a command-line synthesiser per utterance. Failures are logged
// and otherwise ignored; feedback never stops a game.
type Espeak struct {
	// Binary defaults to "espeak".
	Binary string
	Args   []string
}

func (e Espeak) Say(ctx context.Context, text string) {
	bin := e.Binary
	if bin == "" {
		bin = "espeak"
	}
	args := append(append([]string(nil), e.Args...), text)
	if out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput(); err != nil {
		logf("%s failed: %v %s", bin, err, out)
	}
}

// Multi fans one line out to several speakers in order.
type Multi []Speaker

func (m Multi) Say(ctx context.Context, text string) {
	for _, s := range m {
		s.Say(ctx, text)
	}
}

// Recorder keeps every line. It is used by tests and the status endpoint.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Say(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}

// Lines returns a copy of what was said.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Last returns the most recent line, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return ""
	}
	return r.lines[len(r.lines)-1]
}

// Narrator phrases game events for a Speaker.
type Narrator struct {
	Speaker Speaker
}

func (n Narrator) say(ctx context.Context, format string, args ...interface{}) {
	if n.Speaker == nil {
		return
	}
	n.Speaker.Say(ctx, fmt.Sprintf(format, args...))
}

func (n Narrator) GameStarted(ctx context.Context) {
	n.say(ctx, "Game started. Watching for your move.")
}

func (n Narrator) MoveValid(ctx context.Context, move string) {
	n.say(ctx, "Your move %s is valid. My turn.", move)
}

func (n Narrator) Invalid(ctx context.Context, explanation string) {
	n.say(ctx, "Invalid move: %s Try again.", strings.TrimPrefix(explanation, "Invalid: "))
}

// AIMove announces the reply as "Playing e7 to e5."
func (n Narrator) AIMove(ctx context.Context, move string) {
	if len(move) < 4 {
		n.say(ctx, "Playing %s.", move)
		return
	}
	n.say(ctx, "Playing %s to %s.", move[:2], move[2:4])
}

func (n Narrator) MotionFailed(ctx context.Context) {
	n.say(ctx, "Motion failed.")
}

// MakeMyMove asks the player to play the robot's reply by hand.
func (n Narrator) MakeMyMove(ctx context.Context, move string) {
	if len(move) < 4 {
		n.say(ctx, "Please play my move for me: %s.", move)
		return
	}
	n.say(ctx, "Please play my move for me: %s to %s.", move[:2], move[2:4])
}

func (n Narrator) ServiceUnavailable(ctx context.Context) {
	n.say(ctx, "I cannot reach the rules service. Retrying.")
}

func (n Narrator) TooManyErrors(ctx context.Context) {
	n.say(ctx, "Too many errors. Resetting game.")
}

func (n Narrator) GameReset(ctx context.Context) {
	n.say(ctx, "Game reset. Your turn.")
}

// GameOver announces a result such as "Black wins". An empty result or
// "Draw" is a draw.
func (n Narrator) GameOver(ctx context.Context, result string) {
	if result == "" || result == "Draw" {
		n.say(ctx, "Game over. It is a draw. Good game.")
		return
	}
	n.say(ctx, "Game over. %s! Good game.", result)
}

func (n Narrator) HoldStill(ctx context.Context) {
	n.say(ctx, "Too much movement on the board. Please hold still.")
}

func (n Narrator) CameraDown(ctx context.Context) {
	n.say(ctx, "I cannot see the board. Please check the camera.")
}
