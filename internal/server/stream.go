package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ayusman/senas/internal/app"
)

// MJPEGBoundary separates parts of the multipart stream.
const MJPEGBoundary = "frame"

// MJPEGWriter writes JPEG frames as multipart/x-mixed-replace parts.
type MJPEGWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewMJPEGWriter wraps w. If w is an http.Flusher every frame is flushed.
func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	f, _ := w.(http.Flusher)
	return &MJPEGWriter{w: w, flusher: f}
}

// ContentType returns the Content-Type header for the stream.
func (m *MJPEGWriter) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + MJPEGBoundary
}

// WriteFrame writes one part and flushes it. It blocks until the write
// completes, so a slow client slows the producer.
func (m *MJPEGWriter) WriteFrame(jpeg []byte) error {
	if _, err := fmt.Fprintf(m.w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", MJPEGBoundary); err != nil {
		return err
	}
	if _, err := m.w.Write(jpeg); err != nil {
		return err
	}
	if _, err := io.WriteString(m.w, "\r\n"); err != nil {
		return err
	}
	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}

// StreamHandler serves the annotated camera feed as MJPEG.
type StreamHandler struct {
	session *app.Session
}

// NewStreamHandler creates a new StreamHandler over session.
func NewStreamHandler(session *app.Session) *StreamHandler {
	return &StreamHandler{session: session}
}

// ServeHTTP streams frames until the client leaves or the camera closes.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stream, err := h.session.NewFrameStream()
	switch {
	case errors.Is(err, app.ErrStreamBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, app.ErrCameraInactive), errors.Is(err, app.ErrModelNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Close()

	mw := NewMJPEGWriter(w)
	w.Header().Set("Content-Type", mw.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		buf, err := stream.Next(r.Context())
		if err != nil {
			if errors.Is(err, app.ErrStreamClosed) {
				log.Printf("stream %s: camera closed", stream.ID())
			}
			return
		}
		if err := mw.WriteFrame(buf); err != nil {
			return
		}
	}
}
