package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// SetupStreamHeaders prepares the response for newline-delimited JSON
// streaming.
func SetupStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteFrame marshals payload as one NDJSON frame and flushes it.
func WriteFrame(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal stream frame: %v", err)
		return
	}

	if _, err := w.Write(data); err != nil {
		log.Printf("failed to write stream frame: %v", err)
		return
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Printf("failed to write frame terminator: %v", err)
		return
	}
	flusher.Flush()
}
