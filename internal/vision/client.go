package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource queries the camera service's /detect endpoint. The wire format
// follows the service's JSON contract: detections carry a type, a label (or
// color name), and a pixel bounding box.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns a detection client for the service at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type detectRequest struct {
	Modes     []string `json:"modes"`
	Colors    []string `json:"colors,omitempty"`
	TagLabels []string `json:"tag_labels,omitempty"`
}

type wireDetection struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
	BBox  [4]int `json:"bbox"`
}

type detectResponse struct {
	OK         bool            `json:"ok"`
	Error      string          `json:"error,omitempty"`
	Detections []wireDetection `json:"detections"`
}

// Detect runs one detection query against the service.
func (s *HTTPSource) Detect(ctx context.Context, q Query) ([]Detection, error) {
	reqBody := detectRequest{Colors: q.Colors, TagLabels: q.TagLabels}
	if len(q.Colors) > 0 {
		reqBody.Modes = append(reqBody.Modes, "color")
	}
	if len(q.TagLabels) > 0 {
		reqBody.Modes = append(reqBody.Modes, "tags")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detect query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service returned %s", resp.Status)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("detection service error: %s", out.Error)
	}

	dets := make([]Detection, 0, len(out.Detections))
	for _, w := range out.Detections {
		d := Detection{
			BBox: BBox{X: w.BBox[0], Y: w.BBox[1], W: w.BBox[2], H: w.BBox[3]},
		}
		switch w.Type {
		case "tag":
			d.Kind = KindTag
			d.Label = w.Label
		case "color":
			d.Kind = KindColor
			d.Label = w.Color
			if d.Label == "" {
				d.Label = w.Label
			}
		default:
			// Unknown record types are skipped rather than failing the
			// whole query.
			continue
		}
		dets = append(dets, d)
	}
	return dets, nil
}
