package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// countingResponseWriter wraps http.ResponseWriter to record the
// status code and the number of body bytes written.
type countingResponseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten uint64
}

func (w *countingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += uint64(n)
	return n, err
}

func (w *countingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// withRequestLog wraps a handler with structured per-request logging.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		cw := &countingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", cw.status).
			Uint64("bytes", cw.bytesWritten).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
