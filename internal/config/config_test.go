package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procsentry.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[cache]
max_entries = 500
max_bytes = 1048576
ttl = "5m"
high_water = 0.9
low_water = 0.7

[monitor]
interval = "30s"
memory_delta_kb = 2048
cpu_delta_percent = 5.0

[terminate]
graceful_timeout = "8s"
forceful_timeout = "3s"
restart_delay = "2s"
max_concurrent = 3
result_history = 128

[behavior]
store = "sqlite"
path = "/var/lib/procsentry/behavior.db"
save_debounce = "10s"

[health]
enabled = true
interval = "10s"
warn_threshold = 0.6
critical_threshold = 0.3

[history]
sink = "clickhouse"
addr = "localhost:9000"
table = "events"

[server]
listen = "127.0.0.1:9999"
base_path = "/procsentry"
metrics = true

[log]
level = "debug"
json = true
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if fc.Cache.MaxEntries != 500 || fc.Cache.TTL != 5*time.Minute {
		t.Fatalf("cache = %+v", fc.Cache)
	}
	if fc.Monitor.Interval != 30*time.Second || fc.Monitor.MemoryDeltaKB != 2048 {
		t.Fatalf("monitor = %+v", fc.Monitor)
	}
	if fc.Terminate.MaxConcurrent != 3 || fc.Terminate.GracefulTimeout != 8*time.Second {
		t.Fatalf("terminate = %+v", fc.Terminate)
	}
	if fc.Behavior.Store != "sqlite" || fc.Behavior.Path == "" {
		t.Fatalf("behavior = %+v", fc.Behavior)
	}
	if !fc.Health.Enabled || fc.Health.CriticalThreshold != 0.3 {
		t.Fatalf("health = %+v", fc.Health)
	}
	if fc.History.Sink != "clickhouse" || fc.HistoryTable() != "events" {
		t.Fatalf("history = %+v", fc.History)
	}
	if fc.Server.Listen != "127.0.0.1:9999" || !fc.Server.Metrics {
		t.Fatalf("server = %+v", fc.Server)
	}
	if fc.Log.Level != "debug" || !fc.Log.JSON {
		t.Fatalf("log = %+v", fc.Log)
	}
}

func TestLoadEmptyConfigIsValid(t *testing.T) {
	fc, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if fc.HistoryTable() != "termination_events" {
		t.Fatalf("default table = %q", fc.HistoryTable())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		mod  func(fc *FileConfig)
		want string
	}{
		{"negative max entries", func(fc *FileConfig) { fc.Cache.MaxEntries = -1 }, "cache.max_entries"},
		{"high water over one", func(fc *FileConfig) { fc.Cache.HighWater = 1.5 }, "cache.high_water"},
		{"negative low water", func(fc *FileConfig) { fc.Cache.LowWater = -0.1 }, "cache.low_water"},
		{"negative interval", func(fc *FileConfig) { fc.Monitor.Interval = -time.Second }, "monitor.interval"},
		{"cpu delta over hundred", func(fc *FileConfig) { fc.Monitor.CPUDeltaPercent = 150 }, "cpu_delta_percent"},
		{"negative concurrency", func(fc *FileConfig) { fc.Terminate.MaxConcurrent = -1 }, "max_concurrent"},
		{"unknown behavior store", func(fc *FileConfig) { fc.Behavior.Store = "redis" }, "unknown behavior store"},
		{"sqlite without path", func(fc *FileConfig) { fc.Behavior.Store = "sqlite" }, "requires path"},
		{"postgres without dsn", func(fc *FileConfig) { fc.Behavior.Store = "postgres" }, "requires dsn"},
		{"unknown history sink", func(fc *FileConfig) { fc.History.Sink = "kafka" }, "unknown history sink"},
		{"clickhouse without addr", func(fc *FileConfig) { fc.History.Sink = "clickhouse" }, "requires addr"},
		{"history postgres without dsn", func(fc *FileConfig) { fc.History.Sink = "postgres" }, "requires dsn"},
		{"warn threshold over one", func(fc *FileConfig) { fc.Health.WarnThreshold = 2 }, "warn_threshold"},
		{"critical threshold over one", func(fc *FileConfig) { fc.Health.CriticalThreshold = 2 }, "critical_threshold"},
		{"critical above warn", func(fc *FileConfig) {
			fc.Health.WarnThreshold = 0.3
			fc.Health.CriticalThreshold = 0.6
		}, "below warn_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var fc FileConfig
			tc.mod(&fc)
			err := fc.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidateAcceptsZeroValues(t *testing.T) {
	var fc FileConfig
	if err := fc.Validate(); err != nil {
		t.Fatal(err)
	}
}
