// Package config loads booth settings. Sources are layered, each overriding
// the last: built-in defaults, an optional YAML file, an optional .env file,
// PHOTOBOOTH_* environment variables, and finally secrets resolved from SSM
// Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Upload backends.
const (
	BackendS3         = "s3"
	BackendCloudinary = "cloudinary"
	BackendMemory     = "memory"
)

// Config is the full booth configuration.
type Config struct {
	Listen         string   `yaml:"listen"`
	PublicBaseURL  string   `yaml:"publicBaseUrl"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	WebDir         string   `yaml:"webDir"`

	// OriginVerifySecret is never read from YAML. It comes from the
	// environment or from SSM via OriginVerifyParam.
	OriginVerifySecret string `yaml:"-"`
	OriginVerifyParam  string `yaml:"originVerifyParam"`

	Booth      BoothConfig      `yaml:"booth"`
	Capture    CaptureConfig    `yaml:"capture"`
	Frames     FramesConfig     `yaml:"frames"`
	Upload     UploadConfig     `yaml:"upload"`
	S3         S3Config         `yaml:"s3"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
	Store      StoreConfig      `yaml:"store"`
	Notify     NotifyConfig     `yaml:"notify"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// BoothConfig tunes the session controller.
type BoothConfig struct {
	CountdownFrom    int           `yaml:"countdownFrom"`
	TickInterval     time.Duration `yaml:"tickInterval"`
	SuccessTimeout   time.Duration `yaml:"successTimeout"`
	MaxUploadRetries int           `yaml:"maxUploadRetries"`
}

// CaptureConfig limits what the capture endpoint accepts.
type CaptureConfig struct {
	MaxBytes int64 `yaml:"maxBytes"`
}

// FramesConfig selects the frame catalog and where backgrounds come from.
// An empty Catalog uses the built-in catalog. With no AssetDir and no
// AssetBucket, generated placeholder backgrounds are used.
type FramesConfig struct {
	Catalog     string `yaml:"catalog"`
	AssetDir    string `yaml:"assetDir"`
	AssetBucket string `yaml:"assetBucket"`
	AssetPrefix string `yaml:"assetPrefix"`
}

// UploadConfig selects the upload backend.
type UploadConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

// S3Config configures strip storage in S3 or an S3-compatible provider.
type S3Config struct {
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	UsePathStyle  bool          `yaml:"usePathStyle"`
	PublicBaseURL string        `yaml:"publicBaseUrl"`
	PresignExpiry time.Duration `yaml:"presignExpiry"`
}

// CloudinaryConfig configures unsigned Cloudinary uploads.
type CloudinaryConfig struct {
	CloudName         string `yaml:"cloudName"`
	UploadPreset      string `yaml:"uploadPreset"`
	UploadPresetParam string `yaml:"uploadPresetParam"`
	Folder            string `yaml:"folder"`
	Endpoint          string `yaml:"endpoint"`
}

// StoreConfig selects strip record storage. An empty Table keeps records
// in memory.
type StoreConfig struct {
	Table string `yaml:"table"`
}

// NotifyConfig enables EventBridge notifications when EventBus is set.
type NotifyConfig struct {
	EventBus string `yaml:"eventBus"`
	Source   string `yaml:"source"`
}

// MQTTConfig enables the physical trigger bridge when Broker is set.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"clientId"`
	Username     string `yaml:"username"`
	Password     string `yaml:"-"`
	CommandTopic string `yaml:"commandTopic"`
	StateTopic   string `yaml:"stateTopic"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":8080",
		Booth: BoothConfig{
			CountdownFrom:    3,
			TickInterval:     time.Second,
			SuccessTimeout:   60 * time.Second,
			MaxUploadRetries: 3,
		},
		Capture: CaptureConfig{MaxBytes: 15 << 20},
		Upload: UploadConfig{
			Backend: BackendMemory,
			Timeout: 30 * time.Second,
		},
		S3: S3Config{
			Prefix:        "strips/",
			PresignExpiry: 24 * time.Hour,
		},
		Cloudinary: CloudinaryConfig{
			Folder:   "photobooth",
			Endpoint: "https://api.cloudinary.com/v1_1",
		},
		Notify: NotifyConfig{Source: "photobooth"},
		MQTT: MQTTConfig{
			ClientID:     "photobooth",
			CommandTopic: "photobooth/command",
			StateTopic:   "photobooth/state",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional),
// the .env file at envFile (ignored when missing) and the environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from PHOTOBOOTH_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PHOTOBOOTH_LISTEN", &c.Listen)
	str("PHOTOBOOTH_PUBLIC_URL", &c.PublicBaseURL)
	str("PHOTOBOOTH_WEB_DIR", &c.WebDir)
	if v, ok := lookup("PHOTOBOOTH_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	str("PHOTOBOOTH_ORIGIN_VERIFY_SECRET", &c.OriginVerifySecret)
	str("PHOTOBOOTH_ORIGIN_VERIFY_PARAM", &c.OriginVerifyParam)

	num("PHOTOBOOTH_COUNTDOWN", &c.Booth.CountdownFrom)
	dur("PHOTOBOOTH_TICK_INTERVAL", &c.Booth.TickInterval)
	dur("PHOTOBOOTH_SUCCESS_TIMEOUT", &c.Booth.SuccessTimeout)
	num("PHOTOBOOTH_MAX_UPLOAD_RETRIES", &c.Booth.MaxUploadRetries)

	if v, ok := lookup("PHOTOBOOTH_CAPTURE_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PHOTOBOOTH_CAPTURE_MAX_BYTES: %w", err))
		} else {
			c.Capture.MaxBytes = n
		}
	}

	str("PHOTOBOOTH_FRAME_CATALOG", &c.Frames.Catalog)
	str("PHOTOBOOTH_FRAME_DIR", &c.Frames.AssetDir)
	str("PHOTOBOOTH_FRAME_BUCKET", &c.Frames.AssetBucket)
	str("PHOTOBOOTH_FRAME_PREFIX", &c.Frames.AssetPrefix)

	str("PHOTOBOOTH_UPLOAD_BACKEND", &c.Upload.Backend)
	dur("PHOTOBOOTH_UPLOAD_TIMEOUT", &c.Upload.Timeout)

	str("PHOTOBOOTH_S3_BUCKET", &c.S3.Bucket)
	str("PHOTOBOOTH_S3_PREFIX", &c.S3.Prefix)
	str("PHOTOBOOTH_S3_REGION", &c.S3.Region)
	str("PHOTOBOOTH_S3_ENDPOINT", &c.S3.Endpoint)
	boolean("PHOTOBOOTH_S3_PATH_STYLE", &c.S3.UsePathStyle)
	str("PHOTOBOOTH_S3_PUBLIC_URL", &c.S3.PublicBaseURL)
	dur("PHOTOBOOTH_S3_PRESIGN_EXPIRY", &c.S3.PresignExpiry)

	str("PHOTOBOOTH_CLOUDINARY_CLOUD", &c.Cloudinary.CloudName)
	str("PHOTOBOOTH_CLOUDINARY_PRESET", &c.Cloudinary.UploadPreset)
	str("PHOTOBOOTH_CLOUDINARY_PRESET_PARAM", &c.Cloudinary.UploadPresetParam)
	str("PHOTOBOOTH_CLOUDINARY_FOLDER", &c.Cloudinary.Folder)

	str("PHOTOBOOTH_TABLE", &c.Store.Table)
	str("PHOTOBOOTH_EVENT_BUS", &c.Notify.EventBus)

	str("PHOTOBOOTH_MQTT_BROKER", &c.MQTT.Broker)
	str("PHOTOBOOTH_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("PHOTOBOOTH_MQTT_USERNAME", &c.MQTT.Username)
	str("PHOTOBOOTH_MQTT_PASSWORD", &c.MQTT.Password)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SecretLoader fetches a named secret, typically an SSM parameter.
type SecretLoader func(ctx context.Context, name string) (string, error)

// ResolveSecrets fills secrets that were not set directly from their
// parameter names. Secrets already present are left alone.
func (c *Config) ResolveSecrets(ctx context.Context, load SecretLoader) error {
	if load == nil {
		return nil
	}
	if c.OriginVerifySecret == "" && c.OriginVerifyParam != "" {
		v, err := load(ctx, c.OriginVerifyParam)
		if err != nil {
			return fmt.Errorf("origin verify secret: %w", err)
		}
		c.OriginVerifySecret = v
	}
	if c.Cloudinary.UploadPreset == "" && c.Cloudinary.UploadPresetParam != "" {
		v, err := load(ctx, c.Cloudinary.UploadPresetParam)
		if err != nil {
			return fmt.Errorf("cloudinary upload preset: %w", err)
		}
		c.Cloudinary.UploadPreset = v
	}
	return nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.Upload.Backend == BackendS3 ||
		c.Frames.AssetBucket != "" ||
		c.Store.Table != "" ||
		c.Notify.EventBus != "" ||
		(c.OriginVerifySecret == "" && c.OriginVerifyParam != "") ||
		(c.Cloudinary.UploadPreset == "" && c.Cloudinary.UploadPresetParam != "")
}

// Validate fails fast on settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.PublicBaseURL != "" {
		if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("publicBaseUrl %q must be an absolute URL", c.PublicBaseURL))
		}
	}
	if c.Booth.CountdownFrom < 1 {
		errs = append(errs, errors.New("booth.countdownFrom must be at least 1"))
	}
	if c.Booth.TickInterval <= 0 {
		errs = append(errs, errors.New("booth.tickInterval must be positive"))
	}
	if c.Booth.SuccessTimeout <= 0 {
		errs = append(errs, errors.New("booth.successTimeout must be positive"))
	}
	if c.Booth.MaxUploadRetries < 0 {
		errs = append(errs, errors.New("booth.maxUploadRetries must not be negative"))
	}
	if c.Capture.MaxBytes <= 0 {
		errs = append(errs, errors.New("capture.maxBytes must be positive"))
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, errors.New("upload.timeout must be positive"))
	}
	if c.Frames.AssetDir != "" && c.Frames.AssetBucket != "" {
		errs = append(errs, errors.New("frames.assetDir and frames.assetBucket are mutually exclusive"))
	}

	switch c.Upload.Backend {
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required for the s3 upload backend"))
		}
		if c.S3.PublicBaseURL == "" && c.S3.PresignExpiry <= 0 {
			errs = append(errs, errors.New("s3.presignExpiry must be positive when s3.publicBaseUrl is empty"))
		}
	case BackendCloudinary:
		if c.Cloudinary.CloudName == "" {
			errs = append(errs, errors.New("cloudinary.cloudName is required for the cloudinary upload backend"))
		}
		if c.Cloudinary.UploadPreset == "" {
			errs = append(errs, errors.New("cloudinary.uploadPreset is required for the cloudinary upload backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown upload backend %q", c.Upload.Backend))
	}
	return errors.Join(errs...)
}
