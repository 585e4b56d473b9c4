package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/compositor"
	"github.com/rs/zerolog/log"
)

// acceptedFormats are the capture formats the compositor can decode.
var acceptedFormats = map[string]bool{"jpeg": true, "png": true, "webp": true}

// sessionResponse is a snapshot plus the guest-facing links for a
// finished strip.
type sessionResponse struct {
	booth.Snapshot
	RetrievalURL string `json:"retrievalUrl,omitempty"`
	QRCodeURL    string `json:"qrCodeUrl,omitempty"`
}

func (s *Server) sessionView(r *http.Request, snap booth.Snapshot) sessionResponse {
	resp := sessionResponse{Snapshot: snap}
	if snap.ResultID != "" {
		links := s.cfg.Links.ForRequest(r)
		resp.RetrievalURL = links.PhotoURL(snap.ResultID)
		resp.QRCodeURL = links.QRCodeURL(snap.ResultID)
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sessionView(r, s.cfg.Booth.Snapshot()))
}

// eventRequest is the JSON body of POST /api/session/events.
type eventRequest struct {
	Type    string `json:"type"`
	FrameID string `json:"frameId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t := booth.EventType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !t.External() {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type))
		return
	}
	if t == booth.EventCaptureDone {
		httpError(w, http.StatusBadRequest, "captures are posted to /api/session/capture")
		return
	}
	if t == booth.EventSelectFrame {
		if _, ok := s.cfg.Catalog.Lookup(req.FrameID); !ok {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown frame %q", req.FrameID))
			return
		}
	}
	s.dispatch(w, r, booth.Event{Type: t, FrameID: req.FrameID, Reason: req.Reason})
}

func (s *Server) handleCaptureError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.dispatch(w, r, booth.Event{Type: booth.EventCaptureError, Reason: req.Reason})
}

// handleCapture accepts one photo as a raw image body, a data URL, or a
// JSON object {"image": "data:..."}.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	// Base64 inflates by 4/3; allow for it plus the data URL header.
	limit := s.cfg.MaxCaptureBytes*4/3 + 1024
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		httpError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	image, err := s.captureImage(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected capture")
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpError(w, status, err.Error())
		return
	}
	s.dispatch(w, r, booth.Event{Type: booth.EventCaptureDone, Image: image})
}

var errTooLarge = errors.New("image is too large")

func (s *Server) captureImage(contentType string, body []byte) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var req struct {
			Image string `json:"image"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errors.New("invalid request body")
		}
		body = []byte(req.Image)
	}

	raw := bytes.TrimSpace(body)
	if bytes.HasPrefix(raw, []byte("data:")) {
		decoded, _, err := compositor.DecodeDataURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}
		raw = decoded
	}
	if len(raw) == 0 {
		return nil, errors.New("image is required")
	}
	if int64(len(raw)) > s.cfg.MaxCaptureBytes {
		return nil, errTooLarge
	}

	format, w, h, err := compositor.Inspect(raw)
	if err != nil || !acceptedFormats[format] {
		return nil, errors.New("image must be JPEG, PNG or WebP")
	}
	if w == 0 || h == 0 {
		return nil, errors.New("image has no pixels")
	}
	return raw, nil
}

// dispatch sends ev and maps the booth's answer onto HTTP.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev booth.Event) {
	snap, err := s.cfg.Booth.Dispatch(r.Context(), ev)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, s.sessionView(r, snap))
	case errors.Is(err, booth.ErrEventNotHandled):
		current := s.cfg.Booth.Snapshot()
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   fmt.Sprintf("%s is not accepted in state %s", ev.Type, current.State),
			"session": s.sessionView(r, current),
		})
	case errors.Is(err, booth.ErrInvalidEvent):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booth.ErrNotRunning):
		httpError(w, http.StatusServiceUnavailable, "booth is not running")
	default:
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("Dispatch failed")
		httpError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	images := s.cfg.Booth.Snapshot().Images
	if err != nil || n < 1 || n > len(images) {
		httpError(w, http.StatusNotFound, "photo not found")
		return
	}
	data := images[n-1]

	if r.URL.Query().Get("thumb") == "1" {
		thumb, err := compositor.Thumbnail(data, compositor.DefaultThumbnailMaxDimension)
		if err != nil {
			log.Error().Err(err).Int("photo", n).Msg("Thumbnail generation failed")
			httpError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", compositor.ThumbnailMIMEType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write(thumb)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleStrip(w http.ResponseWriter, r *http.Request) {
	artifact := s.cfg.Booth.Snapshot().Artifact
	if len(artifact) == 0 {
		httpError(w, http.StatusNotFound, "no strip yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(artifact)
}
