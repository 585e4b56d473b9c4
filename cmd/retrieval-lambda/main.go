// Command retrieval-lambda serves the guest retrieval pages (/photo/{id},
// the QR code and the strip image) from AWS Lambda behind API Gateway, so
// QR links keep working after the kiosk is packed away.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photobooth/internal/awsboot"
	"github.com/fpang/photobooth/internal/config"
	"github.com/fpang/photobooth/internal/logging"
	"github.com/fpang/photobooth/internal/retrieval"
	"github.com/fpang/photobooth/internal/s3util"
)

// Build-time version identity, injected via -ldflags.
var (
	commitHash = "dev"
	buildTime  = "unknown"
)

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load("", "")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Store.Table == "" {
		log.Fatal().Msg("PHOTOBOOTH_TABLE environment variable is required")
	}

	ctx := context.Background()
	clients, err := awsboot.InitAWS(ctx, cfg.S3.Region)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	h := &retrieval.Handler{
		Store: awsboot.InitDynamo(clients.Config, cfg.Store.Table),
		Links: retrieval.Links{BaseURL: cfg.PublicBaseURL},
	}
	if cfg.S3.Bucket != "" && cfg.S3.PublicBaseURL == "" {
		s3c := awsboot.InitS3(clients.Config, awsboot.S3Options{
			Bucket:       cfg.S3.Bucket,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		expiry := cfg.S3.PresignExpiry
		h.Presign = func(ctx context.Context, key string) (string, error) {
			return s3util.GeneratePresignedURL(ctx, s3c.Presigner, s3c.Bucket, key, expiry)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	h.Register(mux)
	handler = gzhttp.GzipHandler(mux)

	logging.NewStartup("retrieval-lambda", time.Since(initStart)).
		Build(commitHash, buildTime).
		Resource(logging.DynamoTable, "StripTable", cfg.Store.Table).
		Resource(logging.S3Bucket, "StripBucket", cfg.S3.Bucket).
		Feature("presign", h.Presign != nil).
		Setting("publicBaseUrl", logging.EnvOrDefault("PHOTOBOOTH_PUBLIC_URL", "(from request)")).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
