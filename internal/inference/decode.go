package inference

import (
	"fmt"
	"sort"

	"proctor/internal/signals"
)

// DefaultIoUThreshold is the overlap above which NMS drops a box.
const DefaultIoUThreshold = 0.45

// DecodeYOLO reads a YOLOv8 detection head laid out as [1, 4+classes,
// anchors]: rows 0-3 are cx, cy, w, h in model pixels and the remaining
// rows are class scores. Each anchor keeps its best class if that score
// reaches minConfidence.
func DecodeYOLO(out []float32, classes, anchors int, minConfidence float64, s scale, labels []string) []signals.Detection {
	if classes <= 0 || anchors <= 0 || len(out) < (4+classes)*anchors {
		return nil
	}

	var dets []signals.Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if v := out[(4+c)*anchors+i]; v > bestScore {
				best, bestScore = c, v
			}
		}
		if best < 0 || float64(bestScore) < minConfidence {
			continue
		}

		cx := float64(out[i]) * s.x
		cy := float64(out[anchors+i]) * s.y
		w := float64(out[2*anchors+i]) * s.x
		h := float64(out[3*anchors+i]) * s.y

		dets = append(dets, signals.Detection{
			ClassID:    best,
			Label:      labelFor(labels, best),
			Confidence: float64(bestScore),
			Box:        signals.Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
		})
	}
	return NMS(dets, DefaultIoUThreshold)
}

// NMS performs class-wise non-maximum suppression, keeping the most
// confident box of each overlapping group.
func NMS(dets []signals.Detection, iou float64) []signals.Detection {
	sorted := make([]signals.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var kept []signals.Detection
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && k.Box.IoU(d.Box) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// DecodeLiveness picks the most probable class of a classifier head.
func DecodeLiveness(probs []float32, labels []string) signals.Liveness {
	if len(probs) == 0 {
		return signals.RealLiveness
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return signals.Liveness{Label: labelFor(labels, best), Score: float64(probs[best])}
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}
