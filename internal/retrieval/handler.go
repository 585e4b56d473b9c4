package retrieval

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/fpang/photobooth/internal/store"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

// QRCodeSize is the edge length of generated QR code PNGs in pixels.
const QRCodeSize = 320

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ImageSource serves strips the kiosk holds itself.
type ImageSource interface {
	Get(id string) ([]byte, string, error)
}

// PresignFunc returns a short-lived URL for an object key.
type PresignFunc func(ctx context.Context, key string) (string, error)

// Handler serves retrieval pages.
type Handler struct {
	Store  store.Store
	Links  Links
	Images ImageSource
	// Presign refreshes URLs for strips stored under an S3 key, since the
	// URL recorded at upload time may have expired.
	Presign PresignFunc
}

// Register mounts the retrieval routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /photo/{id}", h.handlePage)
	mux.HandleFunc("GET /photo/{id}/qr.png", h.handleQRCode)
	mux.HandleFunc("GET /photo/{id}/image", h.handleImage)
}

type pageData struct {
	ID           string
	ImageURL     string
	DownloadName string
	PageURL      string
	Expires      string
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*store.Strip, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.notFound(w, "Invalid photo ID")
		return nil, false
	}
	strip, err := h.Store.GetStrip(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("stripId", id).Msg("Strip lookup failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if strip == nil {
		h.notFound(w, "This photo has expired or never existed")
		return nil, false
	}
	return strip, true
}

func (h *Handler) notFound(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := pageTemplates.ExecuteTemplate(w, "notfound.html", reason); err != nil {
		log.Warn().Err(err).Msg("Failed to render not-found page")
	}
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	strip, ok := h.lookup(w, r)
	if !ok {
		return
	}
	links := h.Links.ForRequest(r)
	data := pageData{
		ID:           strip.ID,
		ImageURL:     links.ImageURL(strip.ID),
		DownloadName: "photobooth-" + path.Base(strip.ID) + ".jpg",
		PageURL:      links.PhotoURL(strip.ID),
	}
	if strip.ExpiresAt > 0 {
		data.Expires = time.Unix(strip.ExpiresAt, 0).UTC().Format(time.RFC1123)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplates.ExecuteTemplate(w, "photo.html", data); err != nil {
		log.Warn().Err(err).Str("stripId", strip.ID).Msg("Failed to render retrieval page")
	}
}

func (h *Handler) handleQRCode(w http.ResponseWriter, r *http.Request) {
	strip, ok := h.lookup(w, r)
	if !ok {
		return
	}
	png, err := QRCode(h.Links.ForRequest(r).PhotoURL(strip.ID), QRCodeSize)
	if err != nil {
		log.Error().Err(err).Str("stripId", strip.ID).Msg("QR code generation failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Write(png)
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	strip, ok := h.lookup(w, r)
	if !ok {
		return
	}

	switch {
	case strip.Backend == "memory" && h.Images != nil:
		data, contentType, err := h.Images.Get(strip.ID)
		if err != nil {
			h.notFound(w, "This photo has expired or never existed")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Disposition", `inline; filename="photobooth-`+path.Base(strip.ID)+`.jpg"`)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Write(data)

	case strip.Key != "" && h.Presign != nil:
		url, err := h.Presign(r.Context(), strip.Key)
		if err != nil {
			log.Error().Err(err).Str("stripId", strip.ID).Msg("Failed to presign strip")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)

	case strip.URL != "":
		http.Redirect(w, r, strip.URL, http.StatusFound)

	default:
		log.Warn().Str("stripId", strip.ID).Str("backend", strip.Backend).Msg("Strip has no retrievable location")
		h.notFound(w, "This photo is not available")
	}
}

// QRCode encodes content as a PNG QR code with medium error correction.
func QRCode(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("empty QR code content")
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
