package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration, processed from the environment.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8090"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	DBPath  string `envconfig:"DB_PATH" default:"./data/snapseal.db"`
	BlobDir string `envconfig:"BLOB_DIR" default:"./data/blobs"`

	// Remote attestation service.
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"https://api.snapseal.io"`
	VerifyBaseURL string        `envconfig:"VERIFY_BASE_URL" default:"https://snapseal.io/v"`
	UploadTimeout time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"60s"`

	// How long an uploaded record is kept locally before deletion, so the
	// control API can still show the verified state once.
	UploadedRetention time.Duration `envconfig:"UPLOADED_RETENTION" default:"5s"`

	LogoPath string `envconfig:"LOGO_PATH" default:"./assets/logo.png"`

	ViewportWidth  int `envconfig:"VIEWPORT_WIDTH" default:"1500"`
	ViewportHeight int `envconfig:"VIEWPORT_HEIGHT" default:"1080"`

	// Cap on concurrently open capture pages.
	MaxCapturePages int `envconfig:"MAX_CAPTURE_PAGES" default:"2"`

	// Optional fixed geolocation. When unset, location is reported as
	// unavailable and captures carry no GPS fields.
	GeoLatitude  float64 `envconfig:"GEO_LATITUDE" default:"0"`
	GeoLongitude float64 `envconfig:"GEO_LONGITUDE" default:"0"`
	GeoAccuracy  float64 `envconfig:"GEO_ACCURACY" default:"0"`
	GeoEnabled   bool    `envconfig:"GEO_ENABLED" default:"false"`
}

// Load reads .env (if present) and processes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("snapseal", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
