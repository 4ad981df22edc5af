package sequencer

import (
	"fmt"
	"strings"

	"github.com/reach-arm/reachd/internal/kinematics"
)

// Primitive token grammar understood by the arm firmware. Servo tokens are
// S<channel>:<degrees>; several may be joined with '&' for a synchronized
// multi-joint move. Control tokens are WAIT:<ms>, MUTE:<0|1> and
// PRESET:<name>. Every command is sent as one newline-terminated line.

// ServoToken encodes one servo move.
func ServoToken(channel, deg int) string {
	lo, hi := kinematics.AngleMin, kinematics.AngleMax
	if channel == kinematics.ServoGripper {
		hi = kinematics.GripperAngleMax
	}
	return fmt.Sprintf("S%d:%d", channel, kinematics.ClampAngle(deg, lo, hi))
}

// JoinTokens combines servo tokens into one synchronized move.
func JoinTokens(tokens ...string) string {
	return strings.Join(tokens, "&")
}

// WaitToken encodes a firmware-side dwell.
func WaitToken(ms int) string {
	return fmt.Sprintf("WAIT:%d", ms)
}

// MuteToken toggles the arm's audio feedback.
func MuteToken(mute bool) string {
	if mute {
		return "MUTE:1"
	}
	return "MUTE:0"
}

// PresetToken recalls a named firmware preset.
func PresetToken(name string) string {
	return fmt.Sprintf("PRESET:%s", name)
}

// armMove encodes a synchronized shoulder/elbow/wrist move, optionally with
// the base.
func armMove(p posePrimitive) string {
	tokens := []string{
		ServoToken(kinematics.ServoShoulder, p.shoulder),
		ServoToken(kinematics.ServoElbow, p.elbow),
		ServoToken(kinematics.ServoWrist, p.wrist),
	}
	return JoinTokens(tokens...)
}

type posePrimitive struct {
	shoulder, elbow, wrist int
}
