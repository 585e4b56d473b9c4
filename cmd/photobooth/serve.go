package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/photobooth/internal/awsboot"
	"github.com/fpang/photobooth/internal/config"
	"github.com/fpang/photobooth/internal/logging"
	"github.com/fpang/photobooth/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk server",
	Long: `Serve starts the booth runtime and the kiosk HTTP server. The browser
front end drives sessions through /api/session and follows state over the
/api/session/stream WebSocket; guests open /photo/{id} from the QR code.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads configuration, resolves secrets from SSM when needed and
// validates the result. The AWS clients are nil when nothing needs AWS.
func loadConfig(ctx context.Context) (config.Config, *awsboot.AWSClients, error) {
	cfg, err := config.Load(configFlag, envFileFlag)
	if err != nil {
		return cfg, nil, err
	}

	var clients *awsboot.AWSClients
	if cfg.NeedsAWS() {
		c, err := awsboot.InitAWS(ctx, cfg.S3.Region)
		if err != nil {
			return cfg, nil, err
		}
		clients = &c
		if err := cfg.ResolveSecrets(ctx, awsboot.ParameterLoader(c.SSM)); err != nil {
			return cfg, nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, clients, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, clients, err := loadConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	a, err := newApp(cfg, clients)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize booth")
		return err
	}
	logStartup(a, initStart)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      a.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.booth.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Listen).Msg("Starting kiosk server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mem, ok := a.store.(*store.MemoryStore); ok {
		g.Go(func() error {
			pruneLoop(gctx, mem, time.Hour)
			return nil
		})
	}
	if a.bridge != nil {
		g.Go(func() error {
			if err := a.mqtt.Connect(); err != nil {
				// The kiosk stays usable from the touch screen without the button.
				log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT connect failed, trigger bridge disabled")
				return nil
			}
			defer a.mqtt.Disconnect()
			return a.bridge.Run(gctx)
		})
	}

	err = g.Wait()
	a.sessions.Wait()
	if err != nil {
		log.Error().Err(err).Msg("Kiosk stopped with error")
		return err
	}
	log.Info().Msg("Kiosk stopped")
	return nil
}

func logStartup(a *app, initStart time.Time) {
	cfg := a.cfg
	sl := logging.NewStartup("photobooth", time.Since(initStart)).
		Build(commitHash, buildTime).
		Setting("listen", cfg.Listen).
		Setting("uploadBackend", cfg.Upload.Backend).
		Setting("frames", fmt.Sprintf("%d", a.catalog.Len())).
		Setting("defaultFrame", a.catalog.Default().ID).
		Setting("publicBaseUrl", cfg.PublicBaseURL).
		Feature("originVerify", cfg.OriginVerifySecret != "").
		Feature("mqttTrigger", a.bridge != nil).
		Feature("webUI", cfg.WebDir != "").
		Resource(logging.S3Bucket, "FrameBucket", cfg.Frames.AssetBucket).
		Resource(logging.DynamoTable, "StripTable", cfg.Store.Table).
		Resource(logging.SSMParam, "OriginVerify", cfg.OriginVerifyParam).
		Resource(logging.SSMParam, "CloudinaryPreset", cfg.Cloudinary.UploadPresetParam).
		Resource(logging.EventBus, "Notifications", cfg.Notify.EventBus).
		Resource(logging.MQTTBroker, "Trigger", cfg.MQTT.Broker)
	if cfg.Upload.Backend == config.BackendS3 {
		sl.Resource(logging.S3Bucket, "StripBucket", cfg.S3.Bucket)
	}
	sl.Log()
}
