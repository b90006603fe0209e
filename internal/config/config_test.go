package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestByteSizeUnmarshalsNumberAndHumanString(t *testing.T) {
	var cfg Config
	yamlSrc := `
multipart:
  part_size: "5MB"
soak:
  - name: a
    file_size: 1048576
`
	if err := writeAndLoadYAML(t, yamlSrc, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Multipart.PartSize.Int64() != 5*1024*1024 {
		t.Errorf("part_size = %d, want %d", cfg.Multipart.PartSize.Int64(), 5*1024*1024)
	}
	if got := cfg.Soak[0].GetFileSize(); got != 1048576 {
		t.Errorf("file_size = %d, want 1048576", got)
	}
}

func TestByteSizeStringFormatsHumanReadable(t *testing.T) {
	cases := []struct {
		bytes ByteSize
		want  string
	}{
		{1024, "1KB"},
		{1024 * 1024, "1MB"},
		{1024 * 1024 * 1024, "1GB"},
		{512, "512B"},
		{1536, "1536B"},
	}
	for _, c := range cases {
		if got := c.bytes.String(); got != c.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", int64(c.bytes), got, c.want)
		}
	}
}

func TestParseByteSizeRejectsUnknownUnit(t *testing.T) {
	if _, err := parseByteSize("5TB"); err == nil {
		t.Fatal("expected an error for an unsupported unit")
	}
	if _, err := parseByteSize(""); err == nil {
		t.Fatal("expected an error for an empty string")
	}
}

func TestJitterConfigMergesWithParent(t *testing.T) {
	enabled := true
	parent := &JitterConfig{Enabled: &enabled, Max: "10%"}

	child := &JitterConfig{Max: "30s"}
	merged := child.GetEffectiveJitter(parent)
	if !merged.IsEnabled() {
		t.Error("expected child to inherit parent's Enabled=true")
	}
	if merged.Max != "30s" {
		t.Errorf("Max = %q, want child override 30s", merged.Max)
	}

	disabled := false
	childDisables := &JitterConfig{Enabled: &disabled}
	merged = childDisables.GetEffectiveJitter(parent)
	if merged.IsEnabled() {
		t.Error("expected child to override parent's Enabled with false")
	}
	if merged.Max != "10%" {
		t.Errorf("Max = %q, want inherited 10%%", merged.Max)
	}
}

func TestJitterConfigIsEnabledNilSafe(t *testing.T) {
	var j *JitterConfig
	if j.IsEnabled() {
		t.Error("nil JitterConfig must report disabled")
	}
}

func TestParseMaxJitterPercentageAndDuration(t *testing.T) {
	j := &JitterConfig{Max: "10%"}
	d, err := j.ParseMaxJitter(100 * time.Second)
	if err != nil {
		t.Fatalf("ParseMaxJitter: %v", err)
	}
	if d != 10*time.Second {
		t.Errorf("got %v, want 10s", d)
	}

	j = &JitterConfig{Max: "5s"}
	d, err = j.ParseMaxJitter(0)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}

	j = &JitterConfig{Max: "150%"}
	if _, err := j.ParseMaxJitter(time.Second); err == nil {
		t.Fatal("expected an error for a percentage over 100")
	}

	j = &JitterConfig{Max: "10%"}
	if _, err := j.ParseMaxJitter(0); err == nil {
		t.Fatal("expected an error when percentage jitter has no schedule interval")
	}
}

func TestParseCronIntervalCommonPatterns(t *testing.T) {
	cases := []struct {
		schedule string
		want     time.Duration
	}{
		{"*/5 * * * *", 5 * time.Minute},
		{"0 */2 * * *", 2 * time.Hour},
		{"30 * * * *", time.Hour},
		{"15 3 * * *", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseCronInterval(c.schedule)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", c.schedule, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q: got %v, want %v", c.schedule, got, c.want)
		}
	}

	if _, err := ParseCronInterval("not a schedule"); err == nil {
		t.Fatal("expected an error for a malformed schedule")
	}
}

func TestSoakCycleGetCycleJitterFallsBackToGlobal(t *testing.T) {
	enabled := true
	global := JitterConfig{Enabled: &enabled, Max: "20%"}
	cycle := SoakCycle{Name: "c1"}

	got := cycle.GetCycleJitter(global)
	if !got.IsEnabled() || got.Max != "20%" {
		t.Errorf("got %+v, want global jitter inherited", got)
	}
}

func TestLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("S3SOAK_TEST_BUCKET", "my-bucket-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
s3:
  endpoint: http://localhost:9000
  bucket: ${S3SOAK_TEST_BUCKET}
  acl: private
soak:
  - name: upload-cycle
    schedule: "*/5 * * * *"
    enabled: true
    action: upload
    key: soak/object.bin
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.S3.Bucket != "my-bucket-from-env" {
		t.Errorf("bucket = %q, want env-expanded value", cfg.S3.Bucket)
	}
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("region default = %q, want us-east-1", cfg.S3.Region)
	}
	if cfg.Multipart.QueueSize != 4 {
		t.Errorf("queue_size default = %d, want 4", cfg.Multipart.QueueSize)
	}
	if cfg.Multipart.PartSize.Int64() != 8*1024*1024 {
		t.Errorf("part_size default = %d, want 8MiB", cfg.Multipart.PartSize.Int64())
	}
	if cfg.Metrics.Port != 8080 || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics defaults = %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}

	creds := cfg.S3.Credentials()
	if !creds.InsecureHTTP {
		t.Error("expected InsecureHTTP=true for an http:// endpoint")
	}

	acl, err := cfg.S3.ACLValue()
	if err != nil {
		t.Fatalf("ACLValue: %v", err)
	}
	if acl.String() == "" {
		t.Error("expected a non-empty ACL wire string for 'private'")
	}
}

func TestACLValueRejectsUnknownACL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "s3:\n  acl: not-a-real-acl\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.S3.ACLValue(); err == nil {
		t.Fatal("expected an error for an unknown canned ACL")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func writeAndLoadYAML(t *testing.T, src string, cfg *Config) error {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		return err
	}
	*cfg = *loaded
	return nil
}
