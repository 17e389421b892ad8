package inference

import (
	"context"
	"encoding/json"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proctor/internal/capture"
	"proctor/internal/signals"
)

func TestToTensor_PlanarNormalised(t *testing.T) {
	frame := capture.Solid(64, 48, color.RGBA{R: 255, G: 0, B: 51, A: 255}, 1, time.Now())
	data, s := ToTensor(frame, 32)

	plane := 32 * 32
	if len(data) != 3*plane {
		t.Fatalf("len = %d, want %d", len(data), 3*plane)
	}
	for _, i := range []int{0, plane / 2, plane - 1} {
		if data[i] != 1 || data[plane+i] != 0 || math.Abs(float64(data[2*plane+i])-0.2) > 1e-6 {
			t.Fatalf("pixel %d = (%v, %v, %v)", i, data[i], data[plane+i], data[2*plane+i])
		}
	}
	if s.x != 2 || s.y != 1.5 {
		t.Errorf("scale = %+v", s)
	}
}

// yoloOutput builds a [4+classes, anchors] head from per-anchor rows.
func yoloOutput(classes int, rows [][]float32) []float32 {
	anchors := len(rows)
	out := make([]float32, (4+classes)*anchors)
	for i, r := range rows {
		for attr, v := range r {
			out[attr*anchors+i] = v
		}
	}
	return out
}

func TestDecodeYOLO(t *testing.T) {
	labels := []string{"person", "book", "cell phone"}
	out := yoloOutput(3, [][]float32{
		{100, 100, 20, 40, 0.9, 0.1, 0.0},  // person
		{102, 101, 20, 40, 0.8, 0.0, 0.0},  // overlapping person, suppressed
		{300, 200, 10, 10, 0.0, 0.0, 0.7},  // phone
		{400, 400, 10, 10, 0.2, 0.3, 0.1},  // below threshold
	})

	dets := DecodeYOLO(out, 3, 4, 0.5, scale{x: 2, y: 1}, labels)
	if len(dets) != 2 {
		t.Fatalf("got %d detections: %+v", len(dets), dets)
	}
	if dets[0].Label != "person" || dets[0].Confidence < 0.89 {
		t.Errorf("first = %+v", dets[0])
	}
	want := signals.Box{X1: 180, Y1: 80, X2: 220, Y2: 120}
	if dets[0].Box != want {
		t.Errorf("box = %+v, want %+v", dets[0].Box, want)
	}
	if dets[1].Label != "cell phone" {
		t.Errorf("second = %+v", dets[1])
	}

	if DecodeYOLO(out[:5], 3, 4, 0.5, scale{1, 1}, labels) != nil {
		t.Error("short output should decode to nothing")
	}
}

func TestNMS_KeepsOtherClasses(t *testing.T) {
	box := signals.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	dets := []signals.Detection{
		{ClassID: 0, Confidence: 0.6, Box: box},
		{ClassID: 0, Confidence: 0.9, Box: box},
		{ClassID: 73, Confidence: 0.5, Box: box},
	}
	kept := NMS(dets, DefaultIoUThreshold)
	if len(kept) != 2 {
		t.Fatalf("kept %d: %+v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("highest confidence should survive, got %+v", kept[0])
	}
}

func TestDecodeLiveness(t *testing.T) {
	l := DecodeLiveness([]float32{0.3, 0.7}, []string{"fake", "real"})
	if !l.Real() || math.Abs(l.Score-0.7) > 1e-6 {
		t.Errorf("liveness = %+v", l)
	}
	l = DecodeLiveness([]float32{0.8, 0.2}, []string{"fake", "real"})
	if l.Real() || l.Label != "fake" {
		t.Errorf("liveness = %+v", l)
	}
	if got := DecodeLiveness([]float32{0.1, 0.1, 0.8}, []string{"fake", "real"}); got.Label != "class_2" {
		t.Errorf("unknown class label = %q", got.Label)
	}
	if !DecodeLiveness(nil, nil).Real() {
		t.Error("empty output should default to real")
	}
}

func TestCOCOLabels(t *testing.T) {
	if len(COCOLabels) != 80 {
		t.Fatalf("len = %d", len(COCOLabels))
	}
	if COCOLabels[0] != signals.LabelPerson || COCOLabels[67] != signals.LabelCellPhone || COCOLabels[73] != signals.LabelBook {
		t.Error("class indices drifted")
	}
}

func TestLandmarkClient(t *testing.T) {
	frame := capture.Solid(32, 24, color.RGBA{A: 255}, 1, time.Now())

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantFace bool
		wantErr  bool
	}{
		{
			name: "face found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Content-Type") != "image/jpeg" {
					http.Error(w, "bad type", http.StatusBadRequest)
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"faces": []interface{}{
						map[string]interface{}{"points": []map[string]float64{{"x": 0.5, "y": 0.4, "z": 0}}},
					},
				})
			},
			wantFace: true,
		},
		{
			name:    "no face via 404",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		},
		{
			name: "empty list",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"faces": []}`))
			},
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusInternalServerError) },
			wantErr: true,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			face, err := NewLandmarkClient(srv.URL, time.Second).Landmarks(context.Background(), frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (face != nil) != tt.wantFace {
				t.Errorf("face = %+v, wantFace %v", face, tt.wantFace)
			}
			if face != nil && face.Points[0].Y != 0.4 {
				t.Errorf("points = %+v", face.Points)
			}
		})
	}
}
