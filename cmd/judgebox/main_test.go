package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"judgebox/internal/domain/execution"
	"judgebox/internal/infra/codec"
)

func TestEnvOrDefault(t *testing.T) {
	const key = "JUDGEBOX_TEST_ENV"
	const fallback = "fallback"

	if got := envOrDefault(key, fallback); got != fallback {
		t.Fatalf("expected fallback when env unset, got %q", got)
	}

	t.Setenv(key, "value")
	if got := envOrDefault(key, fallback); got != "value" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestParseList(t *testing.T) {
	input := " broker1:9092 , ,broker2:9093 ,"
	brokers := parseList(input)
	want := []string{"broker1:9092", "broker2:9093"}
	if len(brokers) != len(want) {
		t.Fatalf("expected %d brokers, got %d", len(want), len(brokers))
	}
	for i := range want {
		if brokers[i] != want[i] {
			t.Fatalf("unexpected broker at index %d: got %q want %q", i, brokers[i], want[i])
		}
	}
	if got := parseList(""); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestParseMaxSubmissions(t *testing.T) {
	cases := map[string]int{
		"":   0,
		"-1": 0,
		"x":  0,
		"5":  5,
	}

	for input, want := range cases {
		if got := parseMaxSubmissions(input); got != want {
			t.Fatalf("parseMaxSubmissions(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseMaxParallel(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"", 1},
		{"not-a-number", 1},
		{"0", 1},
		{"-5", 1},
		{"3", 3},
	}

	for _, tc := range cases {
		if got := parseMaxParallel(tc.input); got != tc.want {
			t.Fatalf("parseMaxParallel(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"", time.Minute},
		{"garbage", time.Minute},
		{"-3s", time.Minute},
		{"0", time.Minute},
		{"1500ms", 1500 * time.Millisecond},
		{"10", 10 * time.Second},
		{"2.5", 2500 * time.Millisecond},
	}

	for _, tc := range cases {
		if got := parseDuration(tc.input, time.Minute); got != tc.want {
			t.Fatalf("parseDuration(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestLoadAppConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"JUDGEBOX_DEFAULT_TIMEOUT", "JUDGEBOX_MAX_TIMEOUT", "JUDGEBOX_DEFAULT_MEMORY_MB",
		"JUDGEBOX_MAX_MEMORY_MB", "JUDGEBOX_TRANSPORT", "JUDGEBOX_HTTP_ADDR", "PYTHON_IMAGE", "PYTHON_BIN",
	} {
		t.Setenv(key, "")
	}

	cfg := loadAppConfig()
	want := execution.Limits{Timeout: 10 * time.Second, MemoryMB: 256}
	if cfg.DefaultLimits != want || cfg.MaxLimits != want {
		t.Fatalf("unexpected limits %+v / %+v", cfg.DefaultLimits, cfg.MaxLimits)
	}
	if cfg.Transport != transportNone || cfg.HTTPAddr != defaultHTTPAddr || !cfg.httpEnabled() {
		t.Fatalf("unexpected surfaces %q %q", cfg.Transport, cfg.HTTPAddr)
	}
	if cfg.Languages[execution.LanguagePython].Bin != "python3" {
		t.Fatalf("unexpected python config %+v", cfg.Languages[execution.LanguagePython])
	}
}

func TestLoadAppConfigFromEnv(t *testing.T) {
	t.Setenv("JUDGEBOX_MAX_TIMEOUT", "5s")
	t.Setenv("JUDGEBOX_MAX_MEMORY_MB", "128")
	t.Setenv("JUDGEBOX_DISABLE_CONTAINERS", "true")
	t.Setenv("JUDGEBOX_TRANSPORT", "Kafka")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("JUDGEBOX_HTTP_ADDR", "off")
	t.Setenv("CPP_IMAGE", "gcc:14")

	cfg := loadAppConfig()
	if cfg.MaxLimits != (execution.Limits{Timeout: 5 * time.Second, MemoryMB: 128}) {
		t.Fatalf("unexpected max limits %+v", cfg.MaxLimits)
	}
	if !cfg.DisableContainers || cfg.Transport != transportKafka || len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.httpEnabled() {
		t.Fatalf("HTTP should be disabled")
	}
	if cfg.Languages[execution.LanguageCPP].Image != "gcc:14" {
		t.Fatalf("unexpected cpp image %q", cfg.Languages[execution.LanguageCPP].Image)
	}
}

func TestRateLimitKeys(t *testing.T) {
	t.Setenv("JUDGEBOX_RATE_LIMIT", "4")
	t.Setenv("JUDGEBOX_GLOBAL_RATE_LIMIT", "50")
	t.Setenv("JUDGEBOX_MAX_IN_FLIGHT", "8")

	limits := loadAppConfig().limits()
	if limits.GlobalRate != 50 || limits.ClientRate != 4 || limits.ClientBurst != 5 || limits.MaxInFlight != 8 {
		t.Fatalf("unexpected limiter config %+v", limits)
	}
}

func TestApplyConfigFile(t *testing.T) {
	base := loadAppConfig()

	cfg, err := applyConfigFile(base, []byte(`
limits:
  max_timeout: 20s
  default_memory_mb: 128
languages:
  python:
    image: python:3.12-alpine
    bin: python3.12
  java:
    image: eclipse-temurin:21
`))
	if err != nil {
		t.Fatalf("applyConfigFile returned error: %v", err)
	}
	if cfg.MaxLimits.Timeout != 20*time.Second || cfg.DefaultLimits.MemoryMB != 128 {
		t.Fatalf("unexpected limits %+v %+v", cfg.DefaultLimits, cfg.MaxLimits)
	}
	if cfg.DefaultLimits.Timeout != base.DefaultLimits.Timeout {
		t.Fatalf("unset keys must keep their previous value")
	}
	python := cfg.Languages[execution.LanguagePython]
	if python.Image != "python:3.12-alpine" || python.Bin != "python3.12" {
		t.Fatalf("unexpected python override %+v", python)
	}
	if base.Languages[execution.LanguagePython].Bin == "python3.12" {
		t.Fatalf("the base config must not be mutated")
	}

	profiles := cfg.profiles()
	if len(profiles) != 3 || profiles[2].Image != "eclipse-temurin:21" {
		t.Fatalf("unexpected profiles %+v", profiles)
	}

	if _, err := applyConfigFile(base, []byte("languages:\n  ruby:\n    image: ruby\n")); err == nil {
		t.Fatalf("expected unknown language error")
	}
	if _, err := applyConfigFile(base, []byte("limits: [")); err == nil {
		t.Fatalf("expected YAML error")
	}
}

func TestApplyConfigFileBareSeconds(t *testing.T) {
	base := loadAppConfig()

	cfg, err := applyConfigFile(base, []byte("limits:\n  default_timeout: 5\n  compile_timeout: 45\n"))
	if err != nil {
		t.Fatalf("applyConfigFile returned error: %v", err)
	}
	if cfg.DefaultLimits.Timeout != 5*time.Second || cfg.CompileTimeout != 45*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.DefaultLimits.Timeout, cfg.CompileTimeout)
	}

	if _, err := applyConfigFile(base, []byte("limits:\n  max_timeout: forever\n")); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestOpenTransportErrors(t *testing.T) {
	nop := zerolog.Nop()

	cases := []struct {
		name string
		cfg  appConfig
		want string
	}{
		{name: "unknown", cfg: appConfig{Transport: "carrier-pigeon"}, want: "unknown transport"},
		{name: "file without path", cfg: appConfig{Transport: transportFile}, want: "JUDGEBOX_BATCH_FILE"},
		{name: "kafka without brokers", cfg: appConfig{Transport: transportKafka, KafkaTopic: "t"}, want: "broker"},
		{name: "redis without stream", cfg: appConfig{Transport: transportRedis, RedisAddr: "localhost:6379"}, want: "stream"},
	}

	for _, tc := range cases {
		_, _, err := openTransport(tc.cfg, &nop)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestStdoutPublisherWritesOneLinePerReport(t *testing.T) {
	var buf bytes.Buffer
	publisher := newStdoutPublisher(&buf)

	for _, id := range []string{"a", "b"} {
		report := execution.Report{
			Submission: execution.Submission{ID: id},
			Evaluation: &execution.Evaluation{Summary: execution.Summary{Total: 1, Passed: 1}},
		}
		if err := publisher.PublishReport(context.Background(), report); err != nil {
			t.Fatalf("PublishReport returned error: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var envelope codec.EvaluationEnvelope
	if err := json.Unmarshal([]byte(lines[1]), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.ID != "b" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestRunRequiresASurface(t *testing.T) {
	nop := zerolog.Nop()
	cfg := appConfig{
		HTTPAddr:          httpDisabled,
		Transport:         transportNone,
		DisableContainers: true,
		Workdir:           t.TempDir(),
		ProbeTimeout:      time.Second,
		Languages:         loadAppConfig().Languages,
	}
	if err := run(context.Background(), cfg, &nop); err == nil || !strings.Contains(err.Error(), "nothing to do") {
		t.Fatalf("expected nothing-to-do error, got %v", err)
	}
}

func TestRunDrainsBatchFileLocally(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	batch := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(batch, []byte(`
submissions:
  - id: echo
    language: python
    source: "print(input())"
    tests:
      - input: "hi"
        expected_output: "hi"
`), 0o600); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	nop := zerolog.Nop()
	cfg := appConfig{
		DefaultLimits:     execution.Limits{Timeout: 5 * time.Second, MemoryMB: 256},
		MaxLimits:         execution.Limits{Timeout: 5 * time.Second, MemoryMB: 256},
		Workdir:           t.TempDir(),
		ProbeTimeout:      time.Second,
		DisableContainers: true,
		Languages:         loadAppConfig().Languages,
		Transport:         transportFile,
		BatchFile:         batch,
		MaxParallel:       1,
		HTTPAddr:          httpDisabled,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := run(ctx, cfg, &nop); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}
