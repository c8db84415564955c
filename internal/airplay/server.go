// Package airplay implements the nine-endpoint AirPlay v1 HTTP server that
// fronts a single UPnP renderer, translating AirPlay requests into calls on
// a control.AVControlPoint-shaped Backend.
package airplay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"airpnp-bridge/internal/plist"
)

// Features is the AirPlay capability bitmask this server always advertises:
// 0x77 enables binary-plist play bodies.
const Features = 0x77

// Model is the hardcoded AppleTV model string AirPlay clients expect.
const Model = "AppleTV2,1"

const (
	protoVersion = "1.0"
	srcVersion   = "101.10"
)

// Backend is the session/transport state machine behind the nine
// endpoints — implemented by control.AVControlPoint.
type Backend interface {
	SetSessionID(ctx context.Context, sessionID *string) error
	Play(ctx context.Context, uri string, startPosition float64) error
	Stop(ctx context.Context) error
	SetScrub(ctx context.Context, seconds float64) error
	GetScrub(ctx context.Context) (dur, pos float64, err error)
	IsPlaying(ctx context.Context) (bool, error)
	Rate(ctx context.Context, value float64) error
	Reverse(ctx context.Context) error
	Photo(ctx context.Context, data []byte, transition string) error
}

// Server serves the AirPlay HTTP endpoints for one renderer.
type Server struct {
	backend  Backend
	deviceID string
	logger   *slog.Logger
}

// NewRouter builds a chi.Router exposing the nine AirPlay endpoints for
// backend, identified on the wire as deviceID.
func NewRouter(backend Backend, deviceID string, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{backend: backend, deviceID: deviceID, logger: logger}

	r := chi.NewRouter()
	r.Get("/server-info", s.handleServerInfo)
	r.Get("/playback-info", s.handlePlaybackInfo)
	r.Post("/play", s.handlePlay)
	r.Post("/stop", s.handleStop)
	r.Get("/scrub", s.handleScrubGet)
	r.Post("/scrub", s.handleScrubPost)
	r.Post("/rate", s.handleRate)
	r.Post("/reverse", s.handleReverse)
	r.Put("/photo", s.handlePhoto)
	r.Get("/slideshow-features", s.handleSlideshowFeatures)
	return r
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeXMLPlist(w, map[string]interface{}{
		"deviceid":  s.deviceID,
		"features":  Features,
		"model":     Model,
		"protovers": protoVersion,
		"srcvers":   srcVersion,
	})
}

func (s *Server) handlePlaybackInfo(w http.ResponseWriter, r *http.Request) {
	dur, pos, err := s.backend.GetScrub(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	bufferEmpty := dur+pos == 0
	readyToPlay := !bufferEmpty

	rate := 0.0
	if playing, err := s.backend.IsPlaying(r.Context()); err == nil && playing {
		rate = 1.0
	}

	s.writeXMLPlist(w, map[string]interface{}{
		"duration":               dur,
		"position":               pos,
		"rate":                   rate,
		"playbackBufferEmpty":    bufferEmpty,
		"playbackBufferFull":     false,
		"playbackLikelyToKeepUp": true,
		"readyToPlay":            readyToPlay,
		"loadedTimeRanges":       []map[string]interface{}{{"duration": dur, "start": 0.0}},
		"seekableTimeRanges":     []map[string]interface{}{{"duration": dur, "start": 0.0}},
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	fields, err := parsePlayBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		http.Error(w, "malformed play body", http.StatusBadRequest)
		return
	}

	location := fields["Content-Location"]
	if location == "" {
		http.Error(w, "missing Content-Location", http.StatusBadRequest)
		return
	}
	start := 0.0
	if v, ok := fields["Start-Position"]; ok && v != "" {
		if parsed, perr := strconv.ParseFloat(v, 64); perr == nil {
			start = parsed
		}
	}

	sessionID := sessionIDFromRequest(r)
	if err := s.backend.SetSessionID(r.Context(), &sessionID); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.backend.Play(r.Context(), location, start); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleScrubGet(w http.ResponseWriter, r *http.Request) {
	dur, pos, err := s.backend.GetScrub(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "duration: "+formatFloat(dur)+"\nposition: "+formatFloat(pos))
}

func (s *Server) handleScrubPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	posStr := r.Form.Get("position")
	position, err := strconv.ParseFloat(posStr, 64)
	if err != nil {
		http.Error(w, "malformed position", http.StatusBadRequest)
		return
	}
	if err := s.backend.SetScrub(r.Context(), position); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseFloat(r.Form.Get("value"), 64)
	if err != nil {
		http.Error(w, "malformed value", http.StatusBadRequest)
		return
	}
	if err := s.backend.Rate(r.Context(), value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Reverse(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Upgrade", "PTTH/1.0")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	transition := r.Header.Get("X-Apple-Transition")
	if err := s.backend.Photo(r.Context(), body, transition); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSlideshowFeatures(w http.ResponseWriter, r *http.Request) {
	s.writeXMLPlist(w, map[string]interface{}{
		"themes": []map[string]interface{}{
			{"key": "UPnP", "name": "UPnP"},
		},
	})
}

func (s *Server) writeXMLPlist(w http.ResponseWriter, v interface{}) {
	data, err := plist.EncodeXML(v)
	if err != nil {
		s.logger.Error("failed to encode plist response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", plist.ContentTypeXML)
	w.Write(data)
}

// statusFor maps an internal error onto the HTTP status §7 requires.
func statusFor(err error) int {
	switch {
	case isSessionRejected(err):
		return 453
	case isNotFound(err):
		return http.StatusNotFound
	case isProtocolError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("airplay request failed", "error", err)
	http.Error(w, err.Error(), statusFor(err))
}

func sessionIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Apple-Session-ID"); id != "" {
		return id
	}
	return "default"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// parsePlayBody parses a /play request body, recognizing both a binary
// plist body and the legacy RFC822-header-style body AirPlay v1 clients may
// send instead.
func parsePlayBody(contentType string, body []byte) (map[string]string, error) {
	if strings.Contains(contentType, plist.ContentTypeBinary) || strings.Contains(contentType, "binary-plist") {
		var decoded map[string]interface{}
		if err := plist.Decode(body, &decoded); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(decoded))
		for k, v := range decoded {
			out[k] = stringify(v)
		}
		return out, nil
	}
	return parseRFC822(body), nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// parseRFC822 parses "Key: Value\r\n" style headers, the legacy body format
// pre-dating binary plist play bodies.
func parseRFC822(body []byte) map[string]string {
	out := make(map[string]string)
	lines := strings.Split(string(body), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		out[key] = value
	}
	return out
}
