package serialmux

import "strings"

const (
	ReplyIdle    = "idle"
	ReplyMoving  = "moving"
	ReplyVersion = "version"
	ReplyPulse   = "pulse"
	ReplyUnknown = "unknown"
)

// ClassifyReply inspects a controller reply line and returns a reply type
// token. The "Q" status query answers "." when all servos have settled and
// "+" while any is still moving.
func ClassifyReply(payload string) string {
	p := strings.TrimSpace(payload)
	switch {
	case p == ".":
		return ReplyIdle
	case p == "+":
		return ReplyMoving
	case strings.HasPrefix(strings.ToUpper(p), "SSC"):
		return ReplyVersion
	case p != "" && strings.Trim(p, "0123456789 ") == "":
		return ReplyPulse
	default:
		return ReplyUnknown
	}
}
