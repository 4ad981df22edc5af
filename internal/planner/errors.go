package planner

import (
	"fmt"

	"github.com/reach-arm/reachd/internal/geom"
	"github.com/reach-arm/reachd/internal/vision"
)

// OutOfWorkspaceError reports a resolved world point falling outside the
// safety-margined workspace rectangle.
type OutOfWorkspaceError struct {
	Point    geom.WorldPoint
	MarginMM float64
	WidthMM  float64
	HeightMM float64
}

func (e *OutOfWorkspaceError) Error() string {
	return fmt.Sprintf("point (%.1f, %.1f) outside workspace %gx%gmm with %gmm margin",
		e.Point.X, e.Point.Y, e.WidthMM, e.HeightMM, e.MarginMM)
}

// DetectionNotFoundError reports that no detection matched a requested
// selector.
type DetectionNotFoundError struct {
	Selector vision.Selector
}

func (e *DetectionNotFoundError) Error() string {
	return fmt.Sprintf("no detection matches %s", e.Selector)
}
