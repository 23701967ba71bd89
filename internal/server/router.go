package server

import (
	"log/slog"
	"net/http"
	"time"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// LogRequest is middleware that logs incoming HTTP requests.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ip := r.RemoteAddr
		method := r.Method
		url := r.URL.String()
		proto := r.Proto

		start := time.Now()

		writer := ResponseWriterWrapper{ResponseWriter: w}

		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		userAttrs := slog.Group("user", "ip", ip)
		requestAttrs := slog.Group("request", "proto", proto, "method", method, "url", url, "duration_ms", float64(elapsed)/float64(time.Millisecond), "status_code", writer.WrittenResponseCode)

		if writer.WrittenResponseCode >= 400 {
			slog.Error("Request", userAttrs, requestAttrs)
		} else {
			slog.Info("Request", userAttrs, requestAttrs)
		}
	})
}

// AllowCORS is middleware that lets browser portfolio frontends on
// other origins read the API.
func AllowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns an http.Handler implementing the JSON API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.handleProjects)
	mux.HandleFunc("GET /api/v1/image/{format}/{size}/{filename}", s.handleImageURL)
	mux.HandleFunc("GET /api/v1/image/{filename}/metadata", s.handleImageMetadata)

	return LogRequest(AllowCORS(mux))
}
