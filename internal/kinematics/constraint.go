package kinematics

// Envelope models the mechanical interference region between the shoulder
// and wrist joints. With the shoulder raised past TightenAtDeg the wrist
// can no longer reach its full travel without the forearm striking the
// upper arm, so the upper bound is pulled down along a linear edge. The
// coefficients were measured on the physical arm and are kept configurable
// rather than baked into the clamp.
type Envelope struct {
	ShoulderMin float64 `json:"shoulder_min"`
	ShoulderMax float64 `json:"shoulder_max"`

	// Wrist lower bound is max(WristFloor, WristFloorBase - shoulder).
	WristFloor     float64 `json:"wrist_floor"`
	WristFloorBase float64 `json:"wrist_floor_base"`

	// Wrist upper bound is WristCeil, tightened to
	// max(TightFloor, TightIntercept - TightSlope*shoulder)
	// once shoulder >= TightenAtDeg.
	WristCeil      float64 `json:"wrist_ceil"`
	TightenAtDeg   float64 `json:"tighten_at_deg"`
	TightFloor     float64 `json:"tight_floor"`
	TightIntercept float64 `json:"tight_intercept"`
	TightSlope     float64 `json:"tight_slope"`
}

// DefaultEnvelope returns the measured safe envelope for the stock arm.
func DefaultEnvelope() Envelope {
	return Envelope{
		ShoulderMin:    0,
		ShoulderMax:    180,
		WristFloor:     85,
		WristFloorBase: 180,
		WristCeil:      170,
		TightenAtDeg:   140,
		TightFloor:     110,
		TightIntercept: 335,
		TightSlope:     1.5,
	}
}

// ClampSafe clamps a (shoulder, wrist) pair into the safe envelope. Any
// pair commanded while the arm is in motion must pass through here first.
func ClampSafe(env Envelope, shoulder, wrist float64) (float64, float64) {
	shoulder = clampF(shoulder, env.ShoulderMin, env.ShoulderMax)

	lo := env.WristFloorBase - shoulder
	if lo < env.WristFloor {
		lo = env.WristFloor
	}

	hi := env.WristCeil
	if shoulder >= env.TightenAtDeg {
		tight := env.TightIntercept - env.TightSlope*shoulder
		if tight < env.TightFloor {
			tight = env.TightFloor
		}
		if tight < hi {
			hi = tight
		}
	}

	// A degenerate envelope collapses onto its lower edge.
	if hi < lo {
		hi = lo
	}
	return shoulder, clampF(wrist, lo, hi)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
