package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethanadams/s3client/internal/s3sign"
)

// Config is the top-level configuration for the s3soak demo CLI.
type Config struct {
	S3        S3Config        `yaml:"s3"`
	Multipart MultipartConfig `yaml:"multipart"`
	Soak      []SoakCycle     `yaml:"soak"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Jitter    JitterConfig    `yaml:"jitter"` // Global jitter config (default: disabled)
}

// JitterConfig holds jitter configuration
type JitterConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // nil = inherit from parent, false = disabled
	Max     string `yaml:"max,omitempty"`     // Max jitter: duration ("30s") or percentage ("10%")
}

// S3Config holds the credentials and endpoint this process signs
// requests against.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	SessionToken string `yaml:"session_token"`
	ACL          string `yaml:"acl"`
}

// Credentials converts S3Config into the s3sign.Credentials value the
// signer and coordinator consume.
func (c S3Config) Credentials() *s3sign.Credentials {
	return &s3sign.Credentials{
		AccessKeyID:     c.AccessKey,
		SecretAccessKey: c.SecretKey,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Bucket:          c.Bucket,
		SessionToken:    c.SessionToken,
		InsecureHTTP:    strings.HasPrefix(c.Endpoint, "http://"),
	}
}

// ACLValue parses the configured canned ACL string, returning
// s3sign.ACLNone if unset.
func (c S3Config) ACLValue() (s3sign.ACL, error) {
	if c.ACL == "" {
		return s3sign.ACLNone, nil
	}
	return s3sign.ParseACL(c.ACL)
}

// MultipartConfig holds the multipart coordinator's tunables.
type MultipartConfig struct {
	QueueSize int      `yaml:"queue_size"`
	PartSize  ByteSize `yaml:"part_size"`
	Retry     int      `yaml:"retry"`
}

// SoakCycle defines one recurring upload/download/delete cycle the
// demo CLI schedules against the configured bucket. Upload, download,
// and delete cycles sharing a Key cycle the same object: upload writes
// it, download reads it back, delete removes it.
type SoakCycle struct {
	Name     string        `yaml:"name"`
	Schedule string        `yaml:"schedule"`
	Enabled  bool          `yaml:"enabled"`
	Action   string        `yaml:"action"` // "upload", "download", or "delete"
	Key      string        `yaml:"key"`
	FileSize *ByteSize     `yaml:"file_size,omitempty"`
	Jitter   *JitterConfig `yaml:"jitter,omitempty"`
}

// ByteSize represents a file or part size that can be specified as
// bytes or human-readable format ("5MB").
type ByteSize int64

// UnmarshalYAML implements custom YAML unmarshaling for human-readable sizes
func (bs *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var intVal int64
	if err := value.Decode(&intVal); err == nil {
		*bs = ByteSize(intVal)
		return nil
	}

	var strVal string
	if err := value.Decode(&strVal); err != nil {
		return fmt.Errorf("size must be a number or string like '5MB': %w", err)
	}

	size, err := parseByteSize(strVal)
	if err != nil {
		return err
	}
	*bs = ByteSize(size)
	return nil
}

// Int64 returns the byte size as int64
func (bs ByteSize) Int64() int64 {
	return int64(bs)
}

// String returns the byte size in human-readable format
func (bs ByteSize) String() string {
	bytes := int64(bs)
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB && bytes%(GB) == 0:
		return fmt.Sprintf("%dGB", bytes/GB)
	case bytes >= MB && bytes%(MB) == 0:
		return fmt.Sprintf("%dMB", bytes/MB)
	case bytes >= KB && bytes%(KB) == 0:
		return fmt.Sprintf("%dKB", bytes/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// parseByteSize converts human-readable sizes to bytes
// Supports: B, KB, MB, GB (case-insensitive)
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var numStr string
	var unitStr string
	for i, c := range s {
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		numStr = s[:i]
		unitStr = s[i:]
		break
	}

	if unitStr == "" {
		numStr = s
		unitStr = "B"
	}

	num, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size '%s': %w", s, err)
	}

	unitStr = strings.TrimSpace(strings.ToUpper(unitStr))
	var multiplier int64
	switch unitStr {
	case "B", "":
		multiplier = 1
	case "KB", "K":
		multiplier = 1024
	case "MB", "M":
		multiplier = 1024 * 1024
	case "GB", "G":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size unit '%s' (supported: B, KB, MB, GB)", unitStr)
	}

	return int64(num * float64(multiplier)), nil
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsEnabled returns whether jitter is enabled
func (j *JitterConfig) IsEnabled() bool {
	if j == nil || j.Enabled == nil {
		return false
	}
	return *j.Enabled
}

// GetEffectiveJitter returns the effective jitter config, merging with parent
func (j *JitterConfig) GetEffectiveJitter(parent *JitterConfig) JitterConfig {
	result := JitterConfig{}

	if parent != nil {
		result.Enabled = parent.Enabled
		result.Max = parent.Max
	}

	if j != nil {
		if j.Enabled != nil {
			result.Enabled = j.Enabled
		}
		if j.Max != "" {
			result.Max = j.Max
		}
	}

	return result
}

// ParseMaxJitter parses the max jitter value and returns the duration
// For percentages, scheduleInterval is used to calculate the actual duration
func (j *JitterConfig) ParseMaxJitter(scheduleInterval time.Duration) (time.Duration, error) {
	if j == nil || j.Max == "" {
		return 0, nil
	}

	max := strings.TrimSpace(j.Max)

	if strings.HasSuffix(max, "%") {
		percentStr := strings.TrimSuffix(max, "%")
		percent, err := strconv.ParseFloat(percentStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid jitter percentage '%s': %w", max, err)
		}
		if percent < 0 || percent > 100 {
			return 0, fmt.Errorf("jitter percentage must be between 0 and 100, got %v", percent)
		}
		if scheduleInterval <= 0 {
			return 0, fmt.Errorf("cannot use percentage jitter without schedule interval")
		}
		return time.Duration(float64(scheduleInterval) * percent / 100), nil
	}

	return time.ParseDuration(max)
}

// ParseCronInterval estimates the interval between cron executions
// Supports common patterns like "*/5 * * * *" (every 5 min), "0 * * * *" (hourly), etc.
func ParseCronInterval(schedule string) (time.Duration, error) {
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return 0, fmt.Errorf("invalid cron schedule: %s", schedule)
	}

	minute := parts[0]
	hour := parts[1]

	if strings.HasPrefix(minute, "*/") {
		n, err := strconv.Atoi(strings.TrimPrefix(minute, "*/"))
		if err == nil && n > 0 {
			return time.Duration(n) * time.Minute, nil
		}
	}

	if minute == "0" && strings.HasPrefix(hour, "*/") {
		n, err := strconv.Atoi(strings.TrimPrefix(hour, "*/"))
		if err == nil && n > 0 {
			return time.Duration(n) * time.Hour, nil
		}
	}

	if _, err := strconv.Atoi(minute); err == nil && hour == "*" {
		return time.Hour, nil
	}

	if _, err := strconv.Atoi(minute); err == nil {
		if _, err := strconv.Atoi(hour); err == nil {
			return 24 * time.Hour, nil
		}
	}

	return time.Minute, nil
}

// GetCycleJitter returns the effective jitter config for a soak cycle
func (s *SoakCycle) GetCycleJitter(global JitterConfig) JitterConfig {
	return s.Jitter.GetEffectiveJitter(&global)
}

// GetFileSize returns the configured file size, or a 5 MiB default.
func (s *SoakCycle) GetFileSize() int64 {
	if s.FileSize != nil {
		return s.FileSize.Int64()
	}
	return 5 * 1024 * 1024
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Multipart.QueueSize == 0 {
		cfg.Multipart.QueueSize = 4
	}
	if cfg.Multipart.PartSize == 0 {
		cfg.Multipart.PartSize = ByteSize(8 * 1024 * 1024)
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 8080
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	return &cfg, nil
}
