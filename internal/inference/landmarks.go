package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"proctor/internal/capture"
	"proctor/internal/signals"
)

// LandmarkClient calls a face-mesh sidecar over HTTP. The sidecar accepts
// a JPEG body and answers with the meshes it found:
//
//	{"faces": [{"points": [{"x": 0.41, "y": 0.37, "z": -0.02}, ...]}]}
//
// A 404 or an empty face list means no face.
type LandmarkClient struct {
	url    string
	client *http.Client
}

// NewLandmarkClient returns a client posting to url with the given timeout.
func NewLandmarkClient(url string, timeout time.Duration) *LandmarkClient {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &LandmarkClient{url: url, client: &http.Client{Timeout: timeout}}
}

type landmarkResponse struct {
	Faces []signals.FaceLandmarks `json:"faces"`
}

// Landmarks returns the first face in frame, or nil when there is none.
func (c *LandmarkClient) Landmarks(ctx context.Context, frame capture.Frame) (*signals.FaceLandmarks, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame.Image(), &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Frame-Width", fmt.Sprint(frame.Width))
	req.Header.Set("X-Frame-Height", fmt.Sprint(frame.Height))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("landmark request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("landmark service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out landmarkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode landmarks: %w", err)
	}
	if len(out.Faces) == 0 || len(out.Faces[0].Points) == 0 {
		return nil, nil
	}
	face := out.Faces[0]
	return &face, nil
}
