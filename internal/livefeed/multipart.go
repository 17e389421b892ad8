package livefeed

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

// Boundary separates JPEG parts in the multipart stream.
const Boundary = "frame"

// ContentType is the response type of the live feed.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Stream writes frames from sub as multipart/x-mixed-replace parts until
// the subscription ends, ctx is cancelled, or a write fails.
func Stream(ctx context.Context, w http.ResponseWriter, sub *Subscription) error {
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return err
	}

	for {
		f, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(f.JPEG))},
		})
		if err != nil {
			return fmt.Errorf("failed to start part: %w", err)
		}
		if _, err := part.Write(f.JPEG); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
