package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fpang/photobooth/internal/awsboot"
	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/compositor"
	"github.com/fpang/photobooth/internal/config"
	"github.com/fpang/photobooth/internal/frames"
	"github.com/fpang/photobooth/internal/metrics"
	"github.com/fpang/photobooth/internal/notify"
	"github.com/fpang/photobooth/internal/retrieval"
	"github.com/fpang/photobooth/internal/s3util"
	"github.com/fpang/photobooth/internal/server"
	"github.com/fpang/photobooth/internal/store"
	"github.com/fpang/photobooth/internal/trigger"
	"github.com/fpang/photobooth/internal/upload"
)

// app is the fully wired kiosk.
type app struct {
	cfg      config.Config
	catalog  *frames.Catalog
	booth    *booth.Booth
	handler  http.Handler
	store    store.Store
	sessions *store.SessionRecorder
	bridge   *trigger.Bridge
	mqtt     *trigger.Client
}

// loadCatalog returns the configured catalog, or the built-in one.
func loadCatalog(cfg config.FramesConfig) (*frames.Catalog, error) {
	if cfg.Catalog == "" {
		return frames.DefaultCatalog()
	}
	return frames.LoadCatalog(cfg.Catalog)
}

// assetSource resolves frame backgrounds from the bucket or directory,
// falling back to placeholder artwork for anything missing.
func assetSource(cfg config.FramesConfig, s3c *awsboot.S3Clients) frames.AssetSource {
	switch {
	case cfg.AssetBucket != "" && s3c != nil:
		return frames.FallbackSource{
			s3util.FrameAssets{Client: s3c.Client, Bucket: cfg.AssetBucket, Prefix: cfg.AssetPrefix},
			frames.PlaceholderSource{},
		}
	case cfg.AssetDir != "":
		return frames.FallbackSource{frames.NewDirSource(cfg.AssetDir), frames.PlaceholderSource{}}
	default:
		return frames.PlaceholderSource{}
	}
}

// newApp wires every component named by cfg. awsClients is nil when no
// component needs AWS.
func newApp(cfg config.Config, awsClients *awsboot.AWSClients) (*app, error) {
	catalog, err := loadCatalog(cfg.Frames)
	if err != nil {
		return nil, err
	}
	if cfg.NeedsAWS() && awsClients == nil {
		return nil, errors.New("configuration needs AWS but no AWS config was loaded")
	}

	var s3c *awsboot.S3Clients
	if awsClients != nil && (cfg.Upload.Backend == config.BackendS3 || cfg.Frames.AssetBucket != "") {
		c := awsboot.InitS3(awsClients.Config, awsboot.S3Options{
			Bucket:       cfg.S3.Bucket,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		s3c = &c
	}

	assets := assetSource(cfg.Frames, s3c)
	comp := compositor.New(assets)
	links := retrieval.Links{BaseURL: cfg.PublicBaseURL}

	var records store.Store
	if cfg.Store.Table != "" {
		records = awsboot.InitDynamo(awsClients.Config, cfg.Store.Table)
	} else {
		records = store.NewMemoryStore()
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.EventBus != "" {
		notifier = notify.EventBridgeNotifier{
			Client: awsboot.InitEventBridge(awsClients.Config),
			Bus:    cfg.Notify.EventBus,
			Source: cfg.Notify.Source,
		}
	}

	retrievalHandler := &retrieval.Handler{Store: records, Links: links}
	var backend upload.Backend
	switch cfg.Upload.Backend {
	case config.BackendS3:
		s3b := &upload.S3Backend{
			Client:        s3c.Client,
			Presigner:     s3c.Presigner,
			Bucket:        cfg.S3.Bucket,
			Prefix:        cfg.S3.Prefix,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			PresignExpiry: cfg.S3.PresignExpiry,
		}
		if cfg.S3.PublicBaseURL == "" {
			retrievalHandler.Presign = func(ctx context.Context, key string) (string, error) {
				return s3util.GeneratePresignedURL(ctx, s3c.Presigner, cfg.S3.Bucket, key, cfg.S3.PresignExpiry)
			}
		}
		backend = s3b
	case config.BackendCloudinary:
		backend = &upload.CloudinaryBackend{
			HTTPClient:   &http.Client{Timeout: cfg.Upload.Timeout},
			Endpoint:     cfg.Cloudinary.Endpoint,
			CloudName:    cfg.Cloudinary.CloudName,
			UploadPreset: cfg.Cloudinary.UploadPreset,
			Folder:       cfg.Cloudinary.Folder,
		}
	default:
		mem := &upload.MemoryBackend{URLFor: links.ImageURL, TTL: store.RecordTTL}
		retrievalHandler.Images = mem
		backend = mem
	}

	publisher := &upload.Publisher{
		Backend:  backend,
		Store:    records,
		Notifier: notifier,
		Timeout:  cfg.Upload.Timeout,
	}
	if cfg.PublicBaseURL != "" {
		publisher.RetrievalURL = links.PhotoURL
	}

	sessions := &store.SessionRecorder{Store: records}
	b, err := booth.New(catalog,
		func(ctx context.Context, req booth.StitchRequest) ([]byte, error) {
			return comp.Stitch(ctx, req.Images, req.Frame)
		},
		publisher.Upload,
		booth.WithCountdown(cfg.Booth.CountdownFrom, cfg.Booth.TickInterval),
		booth.WithSuccessTimeout(cfg.Booth.SuccessTimeout),
		booth.WithMaxUploadRetries(cfg.Booth.MaxUploadRetries),
		booth.WithObserver(metrics.SessionMetrics{}.Observe),
		booth.WithObserver(sessions.Observe),
	)
	if err != nil {
		return nil, err
	}

	srv := server.New(server.Config{
		Booth:              b,
		Catalog:            catalog,
		Assets:             assets,
		Links:              links,
		Retrieval:          retrievalHandler,
		MaxCaptureBytes:    cfg.Capture.MaxBytes,
		AllowedOrigins:     cfg.AllowedOrigins,
		OriginVerifySecret: cfg.OriginVerifySecret,
		WebDir:             cfg.WebDir,
		Version:            commitHash,
	})

	a := &app{
		cfg:      cfg,
		catalog:  catalog,
		booth:    b,
		handler:  srv.Handler(),
		store:    records,
		sessions: sessions,
	}
	if cfg.MQTT.Broker != "" {
		a.mqtt = trigger.NewClient(trigger.ClientOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		a.bridge = &trigger.Bridge{
			Conn:         a.mqtt,
			Booth:        b,
			CommandTopic: cfg.MQTT.CommandTopic,
			StateTopic:   cfg.MQTT.StateTopic,
		}
	}
	return a, nil
}

// pruneLoop drops expired records from an in-memory store.
func pruneLoop(ctx context.Context, s *store.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}
