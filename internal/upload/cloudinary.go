package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultCloudinaryEndpoint = "https://api.cloudinary.com/v1_1"

// CloudinaryBackend uploads strips with an unsigned upload preset, so no
// API secret ever lives on the kiosk.
type CloudinaryBackend struct {
	HTTPClient   *http.Client
	Endpoint     string
	CloudName    string
	UploadPreset string
	Folder       string
	Now          func() time.Time
}

// cloudinaryResponse holds the fields used from the upload response.
type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Bytes     int    `json:"bytes"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *CloudinaryBackend) Name() string { return "cloudinary" }

func (c *CloudinaryBackend) Put(ctx context.Context, obj Object) (Stored, error) {
	if c.CloudName == "" || c.UploadPreset == "" {
		return Stored{}, fmt.Errorf("cloudinary cloud name and upload preset are required")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	body, contentType, err := c.form(obj, "strip_"+strconv.FormatInt(now().UnixMilli(), 10))
	if err != nil {
		return Stored{}, err
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultCloudinaryEndpoint
	}
	url := strings.TrimSuffix(endpoint, "/") + "/" + c.CloudName + "/image/upload"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return Stored{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	startTime := time.Now()
	httpResp, err := client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Cloudinary upload response")
		return Stored{}, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()
	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Cloudinary upload response")

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Stored{}, fmt.Errorf("read response: %w", err)
	}

	var resp cloudinaryResponse
	parseErr := json.Unmarshal(raw, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if parseErr == nil && resp.Error != nil && resp.Error.Message != "" {
			return Stored{}, fmt.Errorf("%s", resp.Error.Message)
		}
		return Stored{}, fmt.Errorf("upload failed with status %d", httpResp.StatusCode)
	}
	if parseErr != nil {
		return Stored{}, fmt.Errorf("parse response: %w (body: %s)", parseErr, truncate(string(raw), 200))
	}
	if resp.SecureURL == "" || resp.PublicID == "" {
		return Stored{}, fmt.Errorf("unexpected response: no URL returned (body: %s)", truncate(string(raw), 200))
	}
	return Stored{ID: resp.PublicID, URL: resp.SecureURL}, nil
}

// form builds the multipart body for an unsigned upload.
func (c *CloudinaryBackend) form(obj Object, publicID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="photobooth-strip.jpg"`)
	h.Set("Content-Type", obj.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(obj.Data); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}

	fields := [][2]string{
		{"upload_preset", c.UploadPreset},
		{"public_id", publicID},
	}
	if c.Folder != "" {
		fields = append(fields, [2]string{"folder", c.Folder})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
