// Package responsewriter wraps an http.ResponseWriter to remember the status
// code written by the handler.
package responsewriter

import (
	"net/http"
)

// Recorder forwards everything to the wrapped writer and keeps the status.
type Recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

func Wrap(w http.ResponseWriter) *Recorder {
	if rec, ok := w.(*Recorder); ok {
		return rec
	}
	return &Recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *Recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Status returns the written status code, 200 if none was written explicitly.
func (r *Recorder) Status() int {
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
