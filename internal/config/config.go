package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/windfall/prosody_service/internal/prosody"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8001"`
	GRPCPort int    `envconfig:"SERVER_GRPC_PORT" default:"9090"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"90s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Uploads
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"26214400"`
	AudioTempDir   string `envconfig:"AUDIO_TEMP_DIR"`

	// Acoustic extraction
	PitchFloor   float64 `envconfig:"PITCH_FLOOR" default:"75"`
	PitchCeiling float64 `envconfig:"PITCH_CEILING" default:"600"`

	// Prosody calibration
	SecondsPerWord         float64 `envconfig:"PROSODY_SECONDS_PER_WORD" default:"0.5"`
	PauseThresholdRatio    float64 `envconfig:"PROSODY_PAUSE_THRESHOLD_RATIO" default:"0.3"`
	PitchStdNormalizer     float64 `envconfig:"PROSODY_PITCH_STD_NORMALIZER" default:"100"`
	IntensityStdNormalizer float64 `envconfig:"PROSODY_INTENSITY_STD_NORMALIZER" default:"50"`
	PauseNormalizer        float64 `envconfig:"PROSODY_PAUSE_NORMALIZER" default:"10"`
	PitchWeight            float64 `envconfig:"PROSODY_PITCH_WEIGHT" default:"40"`
	IntensityWeight        float64 `envconfig:"PROSODY_INTENSITY_WEIGHT" default:"30"`
	PauseWeight            float64 `envconfig:"PROSODY_PAUSE_WEIGHT" default:"30"`
	PitchStdLow            float64 `envconfig:"PROSODY_PITCH_STD_LOW" default:"20"`
	PitchStdHigh           float64 `envconfig:"PROSODY_PITCH_STD_HIGH" default:"100"`
	RateLow                float64 `envconfig:"PROSODY_RATE_LOW" default:"120"`
	RateHigh               float64 `envconfig:"PROSODY_RATE_HIGH" default:"200"`
	PausesLow              int     `envconfig:"PROSODY_PAUSES_LOW" default:"2"`
	PausesHigh             int     `envconfig:"PROSODY_PAUSES_HIGH" default:"8"`
	SimilarityScale        float64 `envconfig:"PROSODY_SIMILARITY_SCALE" default:"50"`
	PitchDiffThreshold     float64 `envconfig:"PROSODY_PITCH_DIFF_THRESHOLD" default:"30"`
	RateDiffThreshold      float64 `envconfig:"PROSODY_RATE_DIFF_THRESHOLD" default:"30"`
	IntensityDiffThreshold float64 `envconfig:"PROSODY_INTENSITY_DIFF_THRESHOLD" default:"10"`

	// Redis
	RedisURL string        `envconfig:"REDIS_URL"`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Upload archive: "r2", "gcs" or empty to disable
	ArchiveBackend string `envconfig:"ARCHIVE_BACKEND"`

	// Cloudflare R2
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Google Cloud
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	GCSBucketName      string `envconfig:"GCS_BUCKET_NAME"`
	GCPCredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	PubSubTopicID      string `envconfig:"PUBSUB_TOPIC_ID"`

	// AI coach: "openai", "gemini" or empty to disable
	CoachProvider string `envconfig:"COACH_PROVIDER"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"100"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that envconfig cannot.
func (c *Config) Validate() error {
	if err := c.Calibration().Validate(); err != nil {
		return fmt.Errorf("invalid prosody calibration: %w", err)
	}
	if c.PitchFloor <= 0 || c.PitchCeiling <= c.PitchFloor {
		return fmt.Errorf("invalid pitch range %v-%v", c.PitchFloor, c.PitchCeiling)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	switch c.ArchiveBackend {
	case "", "r2", "gcs":
	default:
		return fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend)
	}
	switch c.CoachProvider {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("unknown COACH_PROVIDER %q", c.CoachProvider)
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}
	return nil
}

// Calibration builds the scoring constants from the PROSODY_* settings.
func (c *Config) Calibration() prosody.Calibration {
	return prosody.Calibration{
		SecondsPerWord:         c.SecondsPerWord,
		PauseThresholdRatio:    c.PauseThresholdRatio,
		PitchStdNormalizer:     c.PitchStdNormalizer,
		IntensityStdNormalizer: c.IntensityStdNormalizer,
		PauseNormalizer:        c.PauseNormalizer,
		PitchWeight:            c.PitchWeight,
		IntensityWeight:        c.IntensityWeight,
		PauseWeight:            c.PauseWeight,
		PitchStdLow:            c.PitchStdLow,
		PitchStdHigh:           c.PitchStdHigh,
		RateLow:                c.RateLow,
		RateHigh:               c.RateHigh,
		PausesLow:              c.PausesLow,
		PausesHigh:             c.PausesHigh,
		SimilarityScale:        c.SimilarityScale,
		PitchDiffThreshold:     c.PitchDiffThreshold,
		RateDiffThreshold:      c.RateDiffThreshold,
		IntensityDiffThreshold: c.IntensityDiffThreshold,
	}
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
