package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/notify"
	"github.com/fpang/photobooth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	stored Stored
	err    error
	block  bool
	got    Object
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Put(ctx context.Context, obj Object) (Stored, error) {
	f.got = obj
	if f.block {
		<-ctx.Done()
		return Stored{}, ctx.Err()
	}
	return f.stored, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.StripPublished
	err    error
}

func (r *recordingNotifier) StripPublished(_ context.Context, e notify.StripPublished) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type failingStore struct{ store.Store }

func (failingStore) PutStrip(context.Context, *store.Strip) error { return errors.New("table missing") }

func uploadRequest() booth.UploadRequest {
	return booth.UploadRequest{SessionID: "session-1", FrameID: "classic-vertical", Artifact: []byte("jpeg bytes")}
}

func TestPublisher_Upload(t *testing.T) {
	backend := &fakeBackend{stored: Stored{ID: "strip-1", Key: "strips/strip-1.jpg", URL: "https://cdn.example.com/strips/strip-1.jpg"}}
	records := store.NewMemoryStore()
	notifier := &recordingNotifier{err: errors.New("bus down")}
	p := &Publisher{
		Backend:      backend,
		Store:        records,
		Notifier:     notifier,
		RetrievalURL: func(id string) string { return "https://booth.example.com/photo/" + id },
		Now:          func() time.Time { return epoch },
	}

	res, err := p.Upload(context.Background(), uploadRequest())
	require.NoError(t, err, "notification failures do not fail the upload")
	assert.Equal(t, booth.UploadResult{URL: "https://cdn.example.com/strips/strip-1.jpg", ID: "strip-1"}, res)
	assert.Equal(t, ContentType, backend.got.ContentType)
	assert.Equal(t, "session-1", backend.got.SessionID)

	strip, err := records.GetStrip(context.Background(), "strip-1")
	require.NoError(t, err)
	require.NotNil(t, strip)
	assert.Equal(t, "fake", strip.Backend)
	assert.Equal(t, "strips/strip-1.jpg", strip.Key)
	assert.Equal(t, len("jpeg bytes"), strip.Size)
	assert.Equal(t, epoch.Unix(), strip.CreatedAt)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "https://booth.example.com/photo/strip-1", notifier.events[0].RetrievalURL)
	assert.Equal(t, "classic-vertical", notifier.events[0].FrameID)
}

func TestPublisher_Failures(t *testing.T) {
	t.Run("empty artifact", func(t *testing.T) {
		p := &Publisher{Backend: &fakeBackend{}}
		_, err := p.Upload(context.Background(), booth.UploadRequest{SessionID: "s"})
		assert.EqualError(t, err, "no strip to upload")
	})

	t.Run("backend error", func(t *testing.T) {
		p := &Publisher{Backend: &fakeBackend{err: errors.New("upload failed with status 500")}}
		_, err := p.Upload(context.Background(), uploadRequest())
		assert.EqualError(t, err, "upload failed with status 500")
	})

	t.Run("timeout", func(t *testing.T) {
		p := &Publisher{Backend: &fakeBackend{block: true}, Timeout: 20 * time.Millisecond}
		_, err := p.Upload(context.Background(), uploadRequest())
		assert.EqualError(t, err, "upload timed out after 20ms")

		p.Timeout = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = p.Upload(ctx, uploadRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing url", func(t *testing.T) {
		p := &Publisher{Backend: &fakeBackend{stored: Stored{ID: "x"}}}
		_, err := p.Upload(context.Background(), uploadRequest())
		assert.EqualError(t, err, "fake upload returned no URL")
	})

	t.Run("record failure", func(t *testing.T) {
		notifier := &recordingNotifier{}
		p := &Publisher{
			Backend:  &fakeBackend{stored: Stored{ID: "x", URL: "https://x"}},
			Store:    failingStore{},
			Notifier: notifier,
		}
		_, err := p.Upload(context.Background(), uploadRequest())
		assert.EqualError(t, err, "record strip: table missing")
		assert.Empty(t, notifier.events)
	})
}

type fakeS3 struct {
	key, contentType, tagging string
	body                      []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.tagging = aws.ToString(in.Tagging)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/" + aws.ToString(in.Key)}, nil
}

func TestS3Backend(t *testing.T) {
	client := &fakeS3{}
	b := &S3Backend{
		Client:        client,
		Presigner:     fakePresigner{},
		Bucket:        "strips",
		Prefix:        "strips/",
		PresignExpiry: 24 * time.Hour,
		NewID:         func() string { return "abc" },
	}

	stored, err := b.Put(context.Background(), Object{Data: []byte("jpeg"), ContentType: ContentType})
	require.NoError(t, err)
	assert.Equal(t, Stored{ID: "abc", Key: "strips/abc.jpg", URL: "https://signed.example.com/strips/abc.jpg"}, stored)
	assert.Equal(t, "strips/abc.jpg", client.key)
	assert.Equal(t, "image/jpeg", client.contentType)
	assert.Equal(t, "Project=photobooth", client.tagging)
	assert.Equal(t, []byte("jpeg"), client.body)

	b.PublicBaseURL = "https://cdn.example.com/"
	stored, err = b.Put(context.Background(), Object{Data: []byte("jpeg"), ContentType: ContentType})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/strips/abc.jpg", stored.URL)
}

func TestCloudinaryBackend(t *testing.T) {
	var gotPath string
	fields := map[string]string{}
	var fileName, fileType string
	var fileBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		fileName = hdr.Filename
		fileType = hdr.Header.Get("Content-Type")
		fileBody, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"secure_url": "https://res.cloudinary.com/demo/image/upload/photobooth/strip_1717243200000.jpg",
			"public_id":  "photobooth/" + fields["public_id"],
			"bytes":      4,
		})
	}))
	defer srv.Close()

	b := &CloudinaryBackend{
		HTTPClient:   srv.Client(),
		Endpoint:     srv.URL,
		CloudName:    "demo",
		UploadPreset: "kiosk",
		Folder:       "photobooth",
		Now:          func() time.Time { return epoch },
	}
	stored, err := b.Put(context.Background(), Object{Data: []byte("jpeg"), ContentType: ContentType})
	require.NoError(t, err)

	assert.Equal(t, "/demo/image/upload", gotPath)
	assert.Equal(t, "kiosk", fields["upload_preset"])
	assert.Equal(t, "photobooth", fields["folder"])
	assert.Equal(t, "strip_1717243200000", fields["public_id"])
	assert.Equal(t, "photobooth-strip.jpg", fileName)
	assert.Equal(t, "image/jpeg", fileType)
	assert.Equal(t, []byte("jpeg"), fileBody)
	assert.Equal(t, "photobooth/strip_1717243200000", stored.ID)
	assert.True(t, strings.HasPrefix(stored.URL, "https://res.cloudinary.com/"))
}

func TestCloudinaryBackend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server message", http.StatusBadRequest, `{"error":{"message":"Upload preset must be whitelisted for unsigned uploads"}}`, "Upload preset must be whitelisted for unsigned uploads"},
		{"bare status", http.StatusBadGateway, `<html>bad gateway</html>`, "upload failed with status 502"},
		{"empty error", http.StatusUnauthorized, `{}`, "upload failed with status 401"},
		{"no url", http.StatusOK, `{"public_id":"x"}`, "unexpected response: no URL returned"},
		{"not json", http.StatusOK, `nope`, "parse response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			b := &CloudinaryBackend{HTTPClient: srv.Client(), Endpoint: srv.URL, CloudName: "demo", UploadPreset: "kiosk"}
			_, err := b.Put(context.Background(), Object{Data: []byte("jpeg"), ContentType: ContentType})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := (&CloudinaryBackend{CloudName: "demo"}).Put(context.Background(), Object{})
	assert.ErrorContains(t, err, "upload preset are required")
}

func TestCloudinaryBackend_TimeoutThroughPublisher(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := &Publisher{
		Backend: &CloudinaryBackend{HTTPClient: srv.Client(), Endpoint: srv.URL, CloudName: "demo", UploadPreset: "kiosk"},
		Timeout: 50 * time.Millisecond,
	}
	_, err := p.Upload(context.Background(), uploadRequest())
	assert.EqualError(t, err, "upload timed out after 50ms")
}

func TestMemoryBackend(t *testing.T) {
	now := epoch
	ids := []string{"one", "two"}
	m := &MemoryBackend{
		URLFor: func(id string) string { return "http://kiosk.local/photo/" + id + "/image" },
		TTL:    time.Hour,
		Now:    func() time.Time { return now },
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	}

	data := []byte("jpeg")
	stored, err := m.Put(context.Background(), Object{Data: data, ContentType: ContentType})
	require.NoError(t, err)
	assert.Equal(t, Stored{ID: "one", URL: "http://kiosk.local/photo/one/image"}, stored)
	data[0] = 'X'

	got, ct, err := m.Get("one")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got, "stored bytes are copied")
	assert.Equal(t, ContentType, ct)

	now = epoch.Add(time.Hour)
	_, _, err = m.Get("one")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Put(context.Background(), Object{Data: []byte("b"), ContentType: ContentType})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len(), "expired strips are dropped on put")

	_, err = (&MemoryBackend{}).Put(context.Background(), Object{})
	assert.Error(t, err)
}
