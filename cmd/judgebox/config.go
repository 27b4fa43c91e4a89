package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/httpapi"
	runtimex "judgebox/internal/runtime"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultMemoryMB       = 256
	defaultCompileTimeout = 30 * time.Second
	defaultProbeTimeout   = 2 * time.Second
	defaultProbeTTL       = 30 * time.Second
	defaultHTTPAddr       = ":8080"
	defaultKafkaBrokers   = "kafka:9092"
	defaultKafkaTopic     = "submissions"
	defaultKafkaResults   = "evaluations"
	defaultKafkaGroupID   = "judgebox"
	defaultRedisAddr      = "localhost:6379"
	defaultRedisStream    = "judgebox:submissions"
	defaultRedisResults   = "judgebox:evaluations"
	defaultRedisGroup     = "judgebox"
	transportNone         = "none"
	transportKafka        = "kafka"
	transportRedis        = "redis"
	transportFile         = "file"
	httpDisabled          = "off"
)

type languageConfig struct {
	Image string `yaml:"image"`
	Bin   string `yaml:"bin"`
}

type appConfig struct {
	DefaultLimits     execution.Limits
	MaxLimits         execution.Limits
	CompileTimeout    time.Duration
	Workdir           string
	ProbeTimeout      time.Duration
	ProbeTTL          time.Duration
	DisableContainers bool

	Languages map[execution.Language]languageConfig

	Transport      string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaResults   string
	KafkaGroupID   string
	RedisAddr      string
	RedisStream    string
	RedisResults   string
	RedisGroup     string
	BatchFile      string
	MaxSubmissions int
	MaxParallel    int
	IntakeRate     float64

	HTTPAddr        string
	CORSOrigins     []string
	RateLimit       float64
	GlobalRateLimit float64
	MaxInFlight     int

	LogLevel string
}

func loadAppConfig() appConfig {
	return appConfig{
		DefaultLimits: execution.Limits{
			Timeout:  parseDuration(os.Getenv("JUDGEBOX_DEFAULT_TIMEOUT"), defaultTimeout),
			MemoryMB: parseInt64(os.Getenv("JUDGEBOX_DEFAULT_MEMORY_MB"), defaultMemoryMB),
		},
		MaxLimits: execution.Limits{
			Timeout:  parseDuration(os.Getenv("JUDGEBOX_MAX_TIMEOUT"), defaultTimeout),
			MemoryMB: parseInt64(os.Getenv("JUDGEBOX_MAX_MEMORY_MB"), defaultMemoryMB),
		},
		CompileTimeout:    parseDuration(os.Getenv("JUDGEBOX_COMPILE_TIMEOUT"), defaultCompileTimeout),
		Workdir:           envOrDefault("JUDGEBOX_WORKDIR", os.TempDir()),
		ProbeTimeout:      parseDuration(os.Getenv("JUDGEBOX_PROBE_TIMEOUT"), defaultProbeTimeout),
		ProbeTTL:          parseDuration(os.Getenv("JUDGEBOX_PROBE_TTL"), defaultProbeTTL),
		DisableContainers: parseBool(os.Getenv("JUDGEBOX_DISABLE_CONTAINERS")),

		Languages: map[execution.Language]languageConfig{
			execution.LanguagePython: {
				Image: envOrDefault("PYTHON_IMAGE", runtimex.DefaultPythonImage),
				Bin:   envOrDefault("PYTHON_BIN", "python3"),
			},
			execution.LanguageCPP:  {Image: envOrDefault("CPP_IMAGE", runtimex.DefaultCPPImage)},
			execution.LanguageJava: {Image: envOrDefault("JAVA_IMAGE", runtimex.DefaultJavaImage)},
		},

		Transport:      strings.ToLower(envOrDefault("JUDGEBOX_TRANSPORT", transportNone)),
		KafkaBrokers:   parseList(envOrDefault("KAFKA_BROKERS", defaultKafkaBrokers)),
		KafkaTopic:     envOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
		KafkaResults:   envOrDefault("KAFKA_RESULTS_TOPIC", defaultKafkaResults),
		KafkaGroupID:   envOrDefault("KAFKA_GROUP_ID", defaultKafkaGroupID),
		RedisAddr:      envOrDefault("REDIS_ADDR", defaultRedisAddr),
		RedisStream:    envOrDefault("REDIS_STREAM", defaultRedisStream),
		RedisResults:   envOrDefault("REDIS_RESULTS_STREAM", defaultRedisResults),
		RedisGroup:     envOrDefault("REDIS_GROUP", defaultRedisGroup),
		BatchFile:      os.Getenv("JUDGEBOX_BATCH_FILE"),
		MaxSubmissions: parseMaxSubmissions(os.Getenv("SUBMISSIONS_EXPECTED")),
		MaxParallel:    parseMaxParallel(os.Getenv("JUDGEBOX_MAX_PARALLEL")),
		IntakeRate:     parseFloat(os.Getenv("JUDGEBOX_INTAKE_RATE")),

		HTTPAddr:        envOrDefault("JUDGEBOX_HTTP_ADDR", defaultHTTPAddr),
		CORSOrigins:     parseList(os.Getenv("JUDGEBOX_CORS_ORIGINS")),
		RateLimit:       parseFloat(os.Getenv("JUDGEBOX_RATE_LIMIT")),
		GlobalRateLimit: parseFloat(os.Getenv("JUDGEBOX_GLOBAL_RATE_LIMIT")),
		MaxInFlight:     int(parseInt64(os.Getenv("JUDGEBOX_MAX_IN_FLIGHT"), 0)),

		LogLevel: envOrDefault("JUDGEBOX_LOG_LEVEL", "info"),
	}
}

// fileConfig is the optional YAML overlay named by JUDGEBOX_CONFIG.
type fileConfig struct {
	Limits struct {
		DefaultTimeout  fileDuration `yaml:"default_timeout"`
		MaxTimeout      fileDuration `yaml:"max_timeout"`
		DefaultMemoryMB int64        `yaml:"default_memory_mb"`
		MaxMemoryMB     int64        `yaml:"max_memory_mb"`
		CompileTimeout  fileDuration `yaml:"compile_timeout"`
	} `yaml:"limits"`
	Languages map[string]languageConfig `yaml:"languages"`
}

// fileDuration accepts bare seconds or a Go duration string, like the
// environment keys do.
type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(value *yaml.Node) error {
	v := parseDuration(value.Value, -1)
	if value.Kind != yaml.ScalarNode || v < 0 {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = fileDuration(v)
	return nil
}

// applyConfigFile overlays the non-zero values of a YAML file onto cfg.
func applyConfigFile(cfg appConfig, data []byte) (appConfig, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if v := time.Duration(file.Limits.DefaultTimeout); v > 0 {
		cfg.DefaultLimits.Timeout = v
	}
	if v := time.Duration(file.Limits.MaxTimeout); v > 0 {
		cfg.MaxLimits.Timeout = v
	}
	if v := file.Limits.DefaultMemoryMB; v > 0 {
		cfg.DefaultLimits.MemoryMB = v
	}
	if v := file.Limits.MaxMemoryMB; v > 0 {
		cfg.MaxLimits.MemoryMB = v
	}
	if v := time.Duration(file.Limits.CompileTimeout); v > 0 {
		cfg.CompileTimeout = v
	}

	languages := make(map[execution.Language]languageConfig, len(cfg.Languages))
	for lang, lc := range cfg.Languages {
		languages[lang] = lc
	}
	for name, override := range file.Languages {
		lang := execution.Language(name)
		current, ok := languages[lang]
		if !ok {
			return cfg, fmt.Errorf("config file: unknown language %q", name)
		}
		if override.Image != "" {
			current.Image = override.Image
		}
		if override.Bin != "" {
			current.Bin = override.Bin
		}
		languages[lang] = current
	}
	cfg.Languages = languages
	return cfg, nil
}

func (c appConfig) profiles() []runtimex.Profile {
	python := c.Languages[execution.LanguagePython]
	return []runtimex.Profile{
		runtimex.Python(python.Image, python.Bin),
		runtimex.CPP(c.Languages[execution.LanguageCPP].Image),
		runtimex.Java(c.Languages[execution.LanguageJava].Image),
	}
}

// limits maps the rate limiting keys onto the HTTP limiter.
func (c appConfig) limits() httpapi.LimitConfig {
	return httpapi.LimitConfig{
		GlobalRate:  c.GlobalRateLimit,
		ClientRate:  c.RateLimit,
		ClientBurst: int(c.RateLimit) + 1,
		MaxInFlight: c.MaxInFlight,
	}
}

func (c appConfig) httpEnabled() bool {
	return c.HTTPAddr != "" && c.HTTPAddr != httpDisabled
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	fields := strings.Split(raw, ",")
	items := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func parseMaxSubmissions(raw string) int {
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func parseMaxParallel(raw string) int {
	if raw == "" {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 1
	}
	return value
}

// parseDuration accepts Go durations ("1500ms") and bare seconds ("10").
func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds * float64(time.Second))
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt64(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(raw)
	return err == nil && value
}
