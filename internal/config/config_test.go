package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", map[string]string{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Queue.FilingTopic != "filer" || cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.Root != "./documents" {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
}

func TestFileThenEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filer.yaml")
	doc := `
service_id: filer-test
store:
  driver: sqlite
  dsn: /tmp/filer.db
queue:
  driver: kafka
  brokers: [kafka-1:9092]
  group: filers
retry:
  max_attempts: 3
  backoff: 250ms
blob:
  driver: s3
  s3:
    bucket: from-file
    region: ca-central-1
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := load(path, map[string]string{
		"FILER_QUEUE_BROKERS":          "a:9092,b:9092",
		"FILER_BLOB_S3_BUCKET":         "from-env",
		"FILER_RETRY_BACKOFF":          "2s",
		"FILER_CASCADE_EFFECT_TIMEOUT": "5s",
		"FILER_IDENTIFIER_DRIVER":      "redis",
		"FILER_IDENTIFIER_REDIS_URL":   "redis://localhost:6379/1",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceID != "filer-test" || cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "/tmp/filer.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.Queue.Brokers) != 2 || cfg.Queue.Brokers[1] != "b:9092" {
		t.Fatalf("expected env brokers, got %v", cfg.Queue.Brokers)
	}
	if cfg.Blob.S3.Bucket != "from-env" || cfg.Blob.S3.Region != "ca-central-1" {
		t.Fatalf("unexpected s3 config %+v", cfg.Blob.S3)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Backoff != 2*time.Second {
		t.Fatalf("unexpected retry %+v", cfg.Retry)
	}
	if cfg.Cascade.EffectTimeout != 5*time.Second || cfg.Identifier.Driver != "redis" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Cascade, cfg.Identifier)
	}
	if cfg.Queue.Group != "filers" || cfg.Ops.Addr != ":8080" {
		t.Fatalf("defaults and file values must survive env parsing: %+v", cfg)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	cfg.Queue.Driver = "kafka"
	cfg.Identifier.Driver = "etcd"
	cfg.Retry.MaxAttempts = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"requires a dsn", "requires brokers", `unknown driver "etcd"`, "max attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "absent.yaml"), map[string]string{}); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadRejectsBadEnvironmentValue(t *testing.T) {
	if _, err := load("", map[string]string{"FILER_RETRY_MAX_ATTEMPTS": "many"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
