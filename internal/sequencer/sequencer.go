// Package sequencer executes a motion plan as an ordered, safety-respecting
// chain of primitive commands. Execution is single-threaded and
// cooperative: it suspends only at fixed dwells, never on confirmed
// physical arrival, and the caller must prevent overlapping runs.
package sequencer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/kinematics"
	"github.com/reach-arm/reachd/internal/planner"
)

// Op is the kind of operation being executed.
type Op string

const (
	OpPlace Op = "place"
	OpDrop  Op = "drop"
	OpPour  Op = "pour"
)

// State names one node of the operation state machine.
type State string

const (
	StateIdle            State = "Idle"
	StateLiftToSafe      State = "LiftToSafe"
	StateRotateToPickYaw State = "RotateToPickYaw"
	StateOpenGripper     State = "OpenGripper"
	StateDescendToPick   State = "DescendToPick"
	StateCloseGripper    State = "CloseGripper"
	StateAscendToHover   State = "AscendToHover"
	StateRotateToDestYaw State = "RotateToDestYaw"
	StateDescendToDest   State = "DescendToDestDown"
	StateTwistPour       State = "TwistPour"
	StateDwell           State = "Dwell"
	StateRestPour        State = "RestPour"
	StateSettle          State = "Settle"
	StateReturnDescend   State = "ReturnDescend"
	StateAscend          State = "Ascend"
	StatePark            State = "Park"
)

// Transport is the command port the sequencer emits primitives to. The
// transport accepts commands asynchronously; final-angle feedback, if any,
// arrives separately and is not awaited here.
type Transport interface {
	Send(ctx context.Context, cmd string) error
}

// RunRecorder persists operation run records. A nil recorder disables
// persistence.
type RunRecorder interface {
	RecordRun(id string, kind string, startedAt time.Time) error
	FinishRun(id string, state string, errMsg string) error
}

// SequenceAbortedError reports that a motion step failed or was externally
// interrupted. Remaining transitions were skipped, no recovery motion was
// issued, and the arm rests at its last commanded pose.
type SequenceAbortedError struct {
	State State
	Err   error
}

func (e *SequenceAbortedError) Error() string {
	return fmt.Sprintf("operation aborted at %s: %v", e.State, e.Err)
}

func (e *SequenceAbortedError) Unwrap() error { return e.Err }

// Session is the explicit mutable arm state threaded through planning and
// sequencing: the last commanded angle per servo channel, whether that pose
// can be trusted, and the audio mute flag. The sequencer mutates it while a
// run is in flight and other goroutines read it, so all access goes through
// its lock.
type Session struct {
	mu        sync.Mutex
	angles    map[int]int
	poseKnown bool
	carrying  bool
	muted     bool
}

// NewSession returns a session with no known pose.
func NewSession() *Session {
	return &Session{angles: make(map[int]int)}
}

func (s *Session) note(channel, deg int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.angles == nil {
		s.angles = make(map[int]int)
	}
	s.angles[channel] = deg
}

// Angle returns the last commanded angle for a servo channel.
func (s *Session) Angle(channel int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deg, ok := s.angles[channel]
	return deg, ok
}

// PoseKnown reports whether the last commanded pose can be trusted.
func (s *Session) PoseKnown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poseKnown
}

// Carrying reports whether the gripper is believed to hold an object.
func (s *Session) Carrying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carrying
}

// Muted reports the arm's audio mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetMuted records the arm's audio mute flag.
func (s *Session) SetMuted(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
}

func (s *Session) setPoseKnown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poseKnown = v
}

func (s *Session) setCarrying(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carrying = v
}

// step is one state transition: the primitives it emits and the dwell it
// waits before advancing.
type step struct {
	state State
	cmds  []string
	dwell time.Duration
	after func(*Session)
}

// Sequencer drives one operation at a time through the transport.
type Sequencer struct {
	transport Transport
	recorder  RunRecorder

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New returns a sequencer emitting to the given transport. recorder may be
// nil.
func New(t Transport, recorder RunRecorder) *Sequencer {
	return &Sequencer{transport: t, recorder: recorder, sleep: time.Sleep}
}

// Run executes a plan as one operation. On the first failed step it aborts
// the remaining transitions with a SequenceAbortedError; no automatic retry
// or recovery motion is issued, and the session's pose becomes unknown.
func (s *Sequencer) Run(ctx context.Context, plan *planner.Plan, op Op, profile *calib.Profile, sess *Session) error {
	steps, err := buildSteps(plan, op, profile)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	if s.recorder != nil {
		if err := s.recorder.RecordRun(runID, string(op), time.Now()); err != nil {
			log.Printf("[Sequencer] failed to record run %s: %v", runID, err)
		}
	}
	log.Printf("[Sequencer] run %s: %s, %d steps", runID, op, len(steps))

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return s.abort(runID, sess, st.state, err)
		}
		for _, cmd := range st.cmds {
			if err := s.transport.Send(ctx, cmd); err != nil {
				return s.abort(runID, sess, st.state, err)
			}
		}
		if st.after != nil {
			st.after(sess)
		}
		if st.dwell > 0 {
			s.sleep(st.dwell)
		}
	}

	sess.setPoseKnown(true)
	if s.recorder != nil {
		if err := s.recorder.FinishRun(runID, string(StateIdle), ""); err != nil {
			log.Printf("[Sequencer] failed to finish run %s: %v", runID, err)
		}
	}
	return nil
}

func (s *Sequencer) abort(runID string, sess *Session, state State, cause error) error {
	// The last primitive may already be in flight; the true arm pose must
	// be re-queried before any further planning.
	sess.setPoseKnown(false)
	err := &SequenceAbortedError{State: state, Err: cause}
	log.Printf("[Sequencer] run %s: %v", runID, err)
	if s.recorder != nil {
		if rerr := s.recorder.FinishRun(runID, string(state), cause.Error()); rerr != nil {
			log.Printf("[Sequencer] failed to finish run %s: %v", runID, rerr)
		}
	}
	return err
}

// buildSteps expands a plan into the ordered transition list for the
// operation. Every base rotation is immediately preceded by a
// lift-to-safe-height move; the builder enforces this structurally by only
// ever emitting rotate steps through liftThenRotate.
func buildSteps(plan *planner.Plan, op Op, profile *calib.Profile) ([]step, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}
	switch op {
	case OpPlace, OpPour:
		if plan.PlaceDown == nil {
			return nil, fmt.Errorf("%s operation requires a place-down pose", op)
		}
	case OpDrop:
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	dwell := time.Duration(profile.GetStepDwellMS()) * time.Millisecond
	var steps []step
	add := func(state State, d time.Duration, after func(*Session), cmds ...string) {
		steps = append(steps, step{state: state, cmds: cmds, dwell: d, after: after})
	}
	liftThenRotate := func(lift State, hover planner.Pose, rotate State) {
		add(lift, dwell, poseNote(hover), armMove(posePrimitive{hover.ShoulderDeg, hover.ElbowDeg, hover.WristDeg}))
		add(rotate, dwell, baseNote(hover.BaseDeg), ServoToken(kinematics.ServoBase, hover.BaseDeg))
	}
	gripper := func(state State, deg int, after func(*Session)) {
		add(state, dwell, compose(gripNote(deg), after), ServoToken(kinematics.ServoGripper, deg))
	}
	descend := func(state State, pose planner.Pose) {
		add(state, dwell, poseNote(pose), armMove(posePrimitive{pose.ShoulderDeg, pose.ElbowDeg, pose.WristDeg}))
	}

	// Approach and grasp.
	liftThenRotate(StateLiftToSafe, plan.PickHover, StateRotateToPickYaw)
	gripper(StateOpenGripper, plan.GripperOpenDeg, nil)
	descend(StateDescendToPick, plan.PickDown)
	gripper(StateCloseGripper, plan.GripperCloseDeg, func(s *Session) { s.setCarrying(true) })

	// Carry to the destination: ascend first, then rotate.
	liftThenRotate(StateAscendToHover, plan.PlaceHover, StateRotateToDestYaw)

	release := func(s *Session) { s.setCarrying(false) }
	switch op {
	case OpPlace:
		descend(StateDescendToDest, *plan.PlaceDown)
		gripper(StateOpenGripper, plan.GripperOpenDeg, release)
	case OpDrop:
		gripper(StateOpenGripper, plan.GripperOpenDeg, release)
	case OpPour:
		twist := int(profile.GetPourTwistDeg())
		pourDwell := time.Duration(profile.GetPourDwellMS()) * time.Millisecond
		settle := time.Duration(profile.GetPourSettleMS()) * time.Millisecond
		add(StateTwistPour, dwell, nil, ServoToken(kinematics.ServoTwist, twist))
		// The WAIT token holds the firmware's command queue for the dwell
		// while the host sleeps the same span in parallel, so the rest
		// primitive is neither queued early nor delayed twice.
		add(StateDwell, pourDwell, nil, WaitToken(profile.GetPourDwellMS()))
		add(StateRestPour, dwell, nil, ServoToken(kinematics.ServoTwist, twistRestDeg))
		add(StateSettle, settle, nil)
		descend(StateReturnDescend, *plan.PlaceDown)
		gripper(StateOpenGripper, plan.GripperOpenDeg, release)
		descend(StateAscend, plan.PlaceHover)
	}

	// Come to rest.
	add(StatePark, dwell, nil, ParkCommands(profile)...)

	return steps, nil
}

// ParkCommands returns the primitives that bring the arm to its rest pose:
// the profile's park pose when configured, the firmware preset otherwise.
func ParkCommands(profile *calib.Profile) []string {
	if profile.Park != nil {
		p := profile.Park
		return []string{
			JoinTokens(
				ServoToken(kinematics.ServoShoulder, int(p.ShoulderDeg)),
				ServoToken(kinematics.ServoElbow, int(p.ElbowDeg)),
				ServoToken(kinematics.ServoWrist, int(p.WristDeg)),
			),
			ServoToken(kinematics.ServoBase, p.BaseDeg),
		}
	}
	return []string{PresetToken("PARK")}
}

// Park sends the rest-pose primitives outside of any operation run.
func (s *Sequencer) Park(ctx context.Context, profile *calib.Profile, sess *Session) error {
	for _, cmd := range ParkCommands(profile) {
		if err := s.transport.Send(ctx, cmd); err != nil {
			sess.setPoseKnown(false)
			return &SequenceAbortedError{State: StatePark, Err: err}
		}
	}
	if profile.Park != nil {
		poseNote(planner.Pose{
			BaseDeg:     profile.Park.BaseDeg,
			ShoulderDeg: int(profile.Park.ShoulderDeg),
			ElbowDeg:    int(profile.Park.ElbowDeg),
			WristDeg:    int(profile.Park.WristDeg),
		})(sess)
		baseNote(profile.Park.BaseDeg)(sess)
		sess.setPoseKnown(true)
	} else {
		// The preset's angles are firmware-defined; the pose is not tracked.
		sess.setPoseKnown(false)
	}
	return nil
}

// twistRestDeg is the neutral twist-servo angle the wrist returns to after
// pouring.
const twistRestDeg = 90

func poseNote(p planner.Pose) func(*Session) {
	return func(s *Session) {
		s.note(kinematics.ServoShoulder, p.ShoulderDeg)
		s.note(kinematics.ServoElbow, p.ElbowDeg)
		s.note(kinematics.ServoWrist, p.WristDeg)
	}
}

func baseNote(deg int) func(*Session) {
	return func(s *Session) { s.note(kinematics.ServoBase, deg) }
}

func gripNote(deg int) func(*Session) {
	return func(s *Session) { s.note(kinematics.ServoGripper, deg) }
}

func compose(fns ...func(*Session)) func(*Session) {
	return func(s *Session) {
		for _, fn := range fns {
			if fn != nil {
				fn(s)
			}
		}
	}
}
