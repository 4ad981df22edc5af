// Package vision defines the detection records produced by the external
// camera service and a client for querying it. The service owns all image
// processing; this package only speaks its JSON contract.
package vision

import (
	"context"
	"fmt"
)

// Kind distinguishes the two detection families the service reports.
type Kind string

const (
	KindColor Kind = "color"
	KindTag   Kind = "tag"
)

// KnownColors are the color names the detection service segments. The set
// mirrors the service's HSV presets.
var KnownColors = []string{
	"red", "orange", "yellow", "green", "cyan", "blue",
	"purple", "pink", "white", "gray", "black",
}

// TagLabels are the friendly labels assigned to the workspace's fiducial
// tag IDs.
var TagLabels = []string{"A", "B", "C", "D", "1", "2", "3", "4"}

// BBox is a pixel-space bounding box.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one labeled region in the camera frame. Detections are
// ephemeral: produced per query and consumed immediately.
type Detection struct {
	Kind  Kind   `json:"kind"`
	Label string `json:"label"`
	BBox  BBox   `json:"bbox"`
}

// CenterPx returns the pixel center of the detection's bounding box.
func (d Detection) CenterPx() (float64, float64) {
	return float64(d.BBox.X) + float64(d.BBox.W)/2,
		float64(d.BBox.Y) + float64(d.BBox.H)/2
}

// Selector identifies what to pick or where to place: a colored object or
// a fiducial tag.
type Selector struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (s Selector) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Name)
}

// Matches reports whether a detection satisfies the selector.
func (s Selector) Matches(d Detection) bool {
	return d.Kind == s.Kind && d.Label == s.Name
}

// Query asks the service for specific colors and/or tag labels in the
// current frame.
type Query struct {
	Colors    []string `json:"colors,omitempty"`
	TagLabels []string `json:"tag_labels,omitempty"`
}

// Add extends the query to cover a selector.
func (q *Query) Add(s Selector) {
	switch s.Kind {
	case KindColor:
		q.Colors = append(q.Colors, s.Name)
	case KindTag:
		q.TagLabels = append(q.TagLabels, s.Name)
	}
}

// Source is the detection service port. Implementations must be safe for
// sequential reuse; the planner issues one query per operation.
type Source interface {
	Detect(ctx context.Context, q Query) ([]Detection, error)
}
