// Package retrieval serves the guest side of a finished session: the page a
// QR code points at, the QR code itself, and the strip image.
package retrieval

import (
	"net/http"
	"net/url"
	"strings"
)

// Links builds guest-facing URLs. An empty BaseURL derives the origin
// from each request, which suits a kiosk reached by LAN address.
type Links struct {
	BaseURL string
}

// PhotoURL returns the retrieval page URL for a strip, against base.
func PhotoURL(base, id string) string {
	return strings.TrimSuffix(base, "/") + "/photo/" + url.PathEscape(id)
}

// PhotoURL returns the retrieval page URL using the configured base.
func (l Links) PhotoURL(id string) string {
	return PhotoURL(l.BaseURL, id)
}

// ImageURL returns the URL that serves the strip image itself.
func (l Links) ImageURL(id string) string {
	return l.PhotoURL(id) + "/image"
}

// QRCodeURL returns the URL of the QR code PNG for a strip.
func (l Links) QRCodeURL(id string) string {
	return l.PhotoURL(id) + "/qr.png"
}

// ForRequest returns Links with BaseURL filled from r when unset.
func (l Links) ForRequest(r *http.Request) Links {
	if l.BaseURL != "" {
		return l
	}
	return Links{BaseURL: RequestOrigin(r)}
}

// RequestOrigin reconstructs scheme://host for r, honoring the proxy
// headers CloudFront and API Gateway set.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return scheme + "://" + host
}
