// Package config holds the runtime configuration and feature flags for rtap.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultRegion         = "us-east-1"
	DefaultLogFormat      = "text"
	DefaultLambdaFunction = "rtap-processor"
	DefaultPollInterval   = time.Second
	DefaultPollTimeout    = 5 * time.Minute
)

// Config holds all runtime flags. Optional features are off by default.
type Config struct {
	UseFakeAWS      bool          // In-memory AWS fakes instead of the SDK
	CacheClients    bool          // Reuse one client per service
	Region          string        // AWS region for SDK clients
	LogFormat       string        // "text"|"json"
	TracePath       string        // JSONL trace file; empty disables tracing
	MetricsEnabled  bool          // Record counters and timers
	DemoMode        bool          // Set by WithDemo
	PolicyEnabled   bool          // Evaluate events against the policy engine
	PolicyAllowlist []int         // Sensor ids admitted by the policy; nil admits all
	Plugins         []string      // Built-in plugin names applied in order
	LambdaFunction  string        // Function invoked per stored event
	CheckpointURI   string        // Consumer checkpoint location (file:// or s3://); empty keeps it in memory
	PrometheusFile  string        // Prometheus textfile written after a simulation
	PrincipalARN    string        // IAM principal probed by the health command
	PollInterval    time.Duration // Delay between resource status checks
	PollTimeout     time.Duration // Bound on resource status polling; 0 waits forever
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		UseFakeAWS:     true,
		CacheClients:   true,
		Region:         DefaultRegion,
		LogFormat:      DefaultLogFormat,
		MetricsEnabled: true,
		LambdaFunction: DefaultLambdaFunction,
		PollInterval:   DefaultPollInterval,
		PollTimeout:    DefaultPollTimeout,
	}
}

// FromEnv loads .env (if present) and builds a validated Config from the
// environment.
func FromEnv() (*Config, error) {
	_ = godotenv.Load(".env")
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Default()
	var err error

	if cfg.UseFakeAWS, err = parseBool(get("USE_FAKE_AWS"), cfg.UseFakeAWS); err != nil {
		return nil, fmt.Errorf("USE_FAKE_AWS: %w", err)
	}
	if cfg.CacheClients, err = parseBool(get("RTAP_CACHE_CLIENTS"), cfg.CacheClients); err != nil {
		return nil, fmt.Errorf("RTAP_CACHE_CLIENTS: %w", err)
	}
	if cfg.MetricsEnabled, err = parseBool(get("RTAP_METRICS"), cfg.MetricsEnabled); err != nil {
		return nil, fmt.Errorf("RTAP_METRICS: %w", err)
	}
	if cfg.DemoMode, err = parseBool(get("RTAP_DEMO_MODE"), cfg.DemoMode); err != nil {
		return nil, fmt.Errorf("RTAP_DEMO_MODE: %w", err)
	}
	if cfg.PolicyEnabled, err = parseBool(get("RTAP_POLICY"), cfg.PolicyEnabled); err != nil {
		return nil, fmt.Errorf("RTAP_POLICY: %w", err)
	}
	if cfg.PolicyAllowlist, err = ParseAllowlist(get("RTAP_POLICY_ALLOWLIST")); err != nil {
		return nil, fmt.Errorf("RTAP_POLICY_ALLOWLIST: %w", err)
	}
	if cfg.PollInterval, err = parseDuration(get("RTAP_POLL_INTERVAL"), cfg.PollInterval); err != nil {
		return nil, fmt.Errorf("RTAP_POLL_INTERVAL: %w", err)
	}
	if cfg.PollTimeout, err = parseDuration(get("RTAP_POLL_TIMEOUT"), cfg.PollTimeout); err != nil {
		return nil, fmt.Errorf("RTAP_POLL_TIMEOUT: %w", err)
	}

	if v := get("AWS_REGION"); v != "" {
		cfg.Region = v
	}
	if v := get("RTAP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := get("RTAP_LAMBDA_FUNCTION"); v != "" {
		cfg.LambdaFunction = v
	}
	cfg.TracePath = get("RTAP_TRACE_PATH")
	cfg.Plugins = splitList(get("RTAP_PLUGINS"))
	cfg.CheckpointURI = get("RTAP_CHECKPOINT_URI")
	cfg.PrometheusFile = get("RTAP_PROM_FILE")
	cfg.PrincipalARN = get("RTAP_PRINCIPAL_ARN")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate ensures every field holds a usable value.
func (c *Config) Validate() error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.LambdaFunction == "" {
		return fmt.Errorf("lambda function name is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll timeout must not be negative")
	}
	if c.CheckpointURI != "" {
		u, err := url.Parse(c.CheckpointURI)
		if err != nil {
			return fmt.Errorf("invalid checkpoint URI: %w", err)
		}
		switch u.Scheme {
		case "file":
			if u.Path == "" {
				return fmt.Errorf("checkpoint file URI must include a path")
			}
		case "s3":
			if u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
				return fmt.Errorf("checkpoint S3 URI must be s3://bucket/key")
			}
		default:
			return fmt.Errorf("checkpoint URI must use file or s3 scheme")
		}
	}
	return nil
}

// WithDemo returns a copy with DemoMode set and, when tracePath is
// non-empty, tracing redirected to it. The receiver is not modified.
func (c *Config) WithDemo(tracePath string) *Config {
	out := *c
	out.DemoMode = true
	if tracePath != "" {
		out.TracePath = tracePath
	}
	if c.PolicyAllowlist != nil {
		out.PolicyAllowlist = append([]int(nil), c.PolicyAllowlist...)
	}
	if c.Plugins != nil {
		out.Plugins = append([]string(nil), c.Plugins...)
	}
	return &out
}

// ParseAllowlist parses a comma-separated list of sensor ids. Empty items
// are skipped; an empty list yields nil. Any non-integer item is an error.
func ParseAllowlist(raw string) ([]int, error) {
	var ids []int
	for _, item := range splitList(raw) {
		id, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid sensor id %q", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}
