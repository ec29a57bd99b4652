package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Result archive backends.
const (
	ResultStoreNone = "none"
	ResultStoreFS   = "fs"
	ResultStoreS3   = "s3"
)

// Config represents application configuration loaded from environment
// variables, optionally layered over a TOML file named by CONFIG_FILE.
type Config struct {
	AppEnv           string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration
	RateLimitPerMin  int
	MaxUploadBytes   int64
	CORSOrigins      []string
	DefaultLocale    string

	TargetWidth       int
	TargetHeight      int
	UploadFolder      string
	CardTemplatePath  string
	BGAutocontrast    bool
	AllowedExtensions []string

	FusionAPIURL       string
	FusionAPIKey       string
	FusionSecretKey    string
	FusionPollAttempts int
	FusionPollDelay    time.Duration

	GigaClientID     string
	GigaClientSecret string
	GigaScope        string
	GigaAuthURL      string
	GigaAPIBaseURL   string
	GigaModel        string
	GigaVerifySSL    bool
	PromptSystem     string

	NSFWClassifierURL   string
	NSFWClassifierToken string
	NSFWUnsafeLabel     string

	RembgURL string

	DatabaseURL string
	RedisURL    string
	GeoIPDBPath string

	ResultStore string
	StoragePath string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	ConfigFile string
}

// fileConfig mirrors the subset of settings accepted from CONFIG_FILE.
// Secrets stay in the environment.
type fileConfig struct {
	Server struct {
		Port            string `toml:"port"`
		RateLimitPerMin int    `toml:"rate_limit_per_minute"`
		MaxUploadMB     int    `toml:"max_upload_mb"`
	} `toml:"server"`
	Card struct {
		Width        int    `toml:"width"`
		Height       int    `toml:"height"`
		UploadFolder string `toml:"upload_folder"`
		TemplatePath string `toml:"template_path"`
		Autocontrast *bool  `toml:"autocontrast"`
	} `toml:"card"`
	Fusion struct {
		APIURL       string `toml:"api_url"`
		PollAttempts int    `toml:"poll_attempts"`
		PollDelaySec int    `toml:"poll_delay_seconds"`
	} `toml:"fusion"`
	Giga struct {
		Scope        string `toml:"scope"`
		AuthURL      string `toml:"auth_url"`
		APIBaseURL   string `toml:"api_base_url"`
		Model        string `toml:"model"`
		VerifySSL    *bool  `toml:"verify_ssl"`
		SystemPrompt string `toml:"system_prompt"`
	} `toml:"giga"`
	Safety struct {
		ClassifierURL string `toml:"classifier_url"`
		UnsafeLabel   string `toml:"unsafe_label"`
	} `toml:"safety"`
	Rembg struct {
		URL string `toml:"url"`
	} `toml:"rembg"`
	Storage struct {
		ResultStore string `toml:"result_store"`
		Path        string `toml:"path"`
		S3Bucket    string `toml:"s3_bucket"`
		S3Region    string `toml:"s3_region"`
		S3Endpoint  string `toml:"s3_endpoint"`
	} `toml:"storage"`
}

const defaultPromptSystem = "You are a marketing copywriter. Rewrite the user's idea into a vivid, " +
	"concrete prompt for an image generator that will paint a promotional card background. " +
	"Describe scene, lighting, palette and mood in one paragraph. Do not mention text or logos."

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	file, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", orString(file.Server.Port, "8080")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RequestTimeout:   time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 170)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", orInt(file.Server.RateLimitPerMin, 30)),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", orInt(file.Server.MaxUploadMB, 16))) << 20,
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "ru"),

		TargetWidth:       getEnvInt("TARGET_WIDTH", orInt(file.Card.Width, 1032)),
		TargetHeight:      getEnvInt("TARGET_HEIGHT", orInt(file.Card.Height, 648)),
		UploadFolder:      getEnv("UPLOAD_FOLDER", orString(file.Card.UploadFolder, "uploads")),
		CardTemplatePath:  getEnv("CARD_TEMPLATE_PATH", file.Card.TemplatePath),
		BGAutocontrast:    getEnvBool("CARD_BG_AUTOCONTRAST", orBool(file.Card.Autocontrast, false)),
		AllowedExtensions: getEnvList("ALLOWED_EXTENSIONS", []string{"png", "jpg", "jpeg", "webp", "gif"}),

		FusionAPIURL:       getEnv("FUSION_API_URL", orString(file.Fusion.APIURL, "https://api-key.fusionbrain.ai/")),
		FusionAPIKey:       os.Getenv("FUSION_API_KEY"),
		FusionSecretKey:    os.Getenv("FUSION_SECRET_KEY"),
		FusionPollAttempts: getEnvInt("FUSION_POLL_ATTEMPTS", orInt(file.Fusion.PollAttempts, 20)),
		FusionPollDelay:    time.Second * time.Duration(getEnvInt("FUSION_POLL_DELAY_SECONDS", orInt(file.Fusion.PollDelaySec, 5))),

		GigaClientID:     os.Getenv("GIGA_CLIENT_ID"),
		GigaClientSecret: os.Getenv("GIGA_CLIENT_SECRET"),
		GigaScope:        getEnv("GIGACHAT_SCOPE", orString(file.Giga.Scope, "GIGACHAT_API_PERS")),
		GigaAuthURL:      getEnv("GIGA_AUTH_URL", orString(file.Giga.AuthURL, "https://ngw.devices.sberbank.ru:9443/api/v2/oauth")),
		GigaAPIBaseURL:   getEnv("GIGA_API_BASE_URL", orString(file.Giga.APIBaseURL, "https://gigachat.devices.sberbank.ru/api/v1")),
		GigaModel:        getEnv("GIGA_MODEL", orString(file.Giga.Model, "GigaChat")),
		GigaVerifySSL:    getEnvBool("GIGA_VERIFY_SSL", orBool(file.Giga.VerifySSL, true)),
		PromptSystem:     getEnv("PROMPT_SYSTEM", orString(file.Giga.SystemPrompt, defaultPromptSystem)),

		NSFWClassifierURL:   getEnv("NSFW_CLASSIFIER_URL", file.Safety.ClassifierURL),
		NSFWClassifierToken: os.Getenv("NSFW_CLASSIFIER_TOKEN"),
		NSFWUnsafeLabel:     getEnv("NSFW_UNSAFE_LABEL", orString(file.Safety.UnsafeLabel, "nsfw")),

		RembgURL: getEnv("REMBG_URL", file.Rembg.URL),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		ResultStore: strings.ToLower(getEnv("RESULT_STORE", orString(file.Storage.ResultStore, ResultStoreNone))),
		StoragePath: getEnv("STORAGE_PATH", orString(file.Storage.Path, "storage")),
		S3Bucket:    getEnv("S3_BUCKET", file.Storage.S3Bucket),
		S3Region:    getEnv("S3_REGION", orString(file.Storage.S3Region, "us-east-1")),
		S3Endpoint:  getEnv("S3_ENDPOINT", file.Storage.S3Endpoint),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),

		ConfigFile: path,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.TargetWidth <= 0 || c.TargetHeight <= 0 {
		return fmt.Errorf("TARGET_WIDTH and TARGET_HEIGHT must be positive, got %dx%d", c.TargetWidth, c.TargetHeight)
	}
	if c.FusionPollAttempts <= 0 {
		return fmt.Errorf("FUSION_POLL_ATTEMPTS must be positive")
	}
	switch c.ResultStore {
	case ResultStoreNone, ResultStoreFS:
	case ResultStoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when RESULT_STORE=s3")
		}
	default:
		return fmt.Errorf("unknown RESULT_STORE %q", c.ResultStore)
	}
	return nil
}

// FusionConfigured reports whether image generation credentials are present.
func (c *Config) FusionConfigured() bool {
	return c.FusionAPIKey != "" && c.FusionSecretKey != ""
}

// GigaConfigured reports whether chat credentials are present.
func (c *Config) GigaConfigured() bool {
	return c.GigaClientID != "" && c.GigaClientSecret != ""
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, fmt.Errorf("config file %s not found", path)
		}
		return fc, fmt.Errorf("open config: %w", err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, strings.TrimPrefix(p, "."))
		}
	}
	return out
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orBool(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
