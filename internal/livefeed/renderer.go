package livefeed

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"proctor/internal/capture"
	"proctor/internal/pipeline"
	"proctor/pkg/types"
)

var (
	colorAlert  = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	colorOK     = color.RGBA{R: 40, G: 200, B: 80, A: 255}
	colorText   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorMuted  = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	colorBox    = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	colorShadow = color.RGBA{A: 160}
)

const lineHeight = 14

// Overlay is the status drawn over a frame.
type Overlay struct {
	Username  string
	Remaining time.Duration
	Result    pipeline.Result
}

// Renderer annotates frames and encodes them as JPEG.
type Renderer struct {
	quality int
}

// NewRenderer returns a renderer encoding at quality (1-100).
func NewRenderer(quality int) *Renderer {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Renderer{quality: quality}
}

// Render draws the overlay on a copy of frame and returns the JPEG bytes.
func (r *Renderer) Render(frame capture.Frame, o Overlay) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("invalid frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Pix))
	}
	img := frame.Image()
	annotate(img, o)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func annotate(img *image.RGBA, o Overlay) {
	b := img.Bounds()
	res := o.Result

	for _, d := range res.Detections {
		outline(img, image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2)), colorBox)
	}

	shade(img, image.Rect(0, 0, b.Dx(), 2*lineHeight+6))
	status, statusColor := "Status: Normal", colorOK
	if res.Verdict.Cheating {
		status, statusColor = fmt.Sprintf("CHEATING DETECTED (%d)", res.Verdict.Count), colorAlert
	}
	text(img, 6, lineHeight, statusColor, status)

	mins := int(o.Remaining / time.Minute)
	secs := int(o.Remaining/time.Second) % 60
	clock := fmt.Sprintf("Time: %02d:%02d", mins, secs)
	text(img, b.Dx()-len(clock)*7-6, lineHeight, colorText, clock)

	if o.Username != "" {
		text(img, 6, 2*lineHeight+2, colorMuted, o.Username)
	}

	y := 3*lineHeight + 10
	switch {
	case res.Signals.NoFace:
		text(img, 6, y, colorAlert, "No face detected!")
		y += lineHeight
	case res.Gaze != nil:
		text(img, 6, y, colorText, fmt.Sprintf("Gaze: %s", res.Gaze.Direction))
		y += lineHeight
	}
	if res.Pose != nil {
		text(img, 6, y, colorText, fmt.Sprintf("Head: X=%d Y=%d", int(res.Pose.Pitch), int(res.Pose.Yaw)))
		y += lineHeight
	}
	livenessColor := colorOK
	if !res.Liveness.Real() {
		livenessColor = colorAlert
	}
	text(img, 6, y, livenessColor, fmt.Sprintf("Liveness: %s (%.2f)", res.Liveness.Label, res.Liveness.Score))

	// Indicator column, one row per signal.
	x := b.Dx() - 130
	y = 3*lineHeight + 10
	for _, f := range types.AllFlags {
		c := colorMuted
		if res.Signals.Get(f) {
			c = colorAlert
		}
		draw.Draw(img, image.Rect(x, y-9, x+8, y-1), image.NewUniform(c), image.Point{}, draw.Src)
		text(img, x+12, y, c, string(f))
		y += lineHeight
	}
}

func text(img draw.Image, x, y int, c color.Color, s string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func shade(img draw.Image, r image.Rectangle) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(colorShadow), image.Point{}, draw.Over)
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
