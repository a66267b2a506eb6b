package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/serializer"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func envMap(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestManager_Layering(t *testing.T) {
	dir := t.TempDir()
	system := writeFile(t, dir, "system.yaml", `
export:
  format: parquet
  compression: zstd
  sidecar: true
logging:
  level: debug
`)
	project := writeFile(t, dir, "project.yaml", `
export:
  format: csv
  ignore_streams: ["baseline"]
checkpoint:
  retention: 24h
`)

	m := NewManager(
		WithSearchPaths(system, filepath.Join(dir, "missing.yaml"), project),
		WithEnv(envMap(map[string]string{
			"DOCEXPORT_TEMPLATE":      "{plan_name}/{uid}",
			"DOCEXPORT_JOBS":          "3",
			"DOCEXPORT_OTLP_ENDPOINT": "collector:4317",
		})),
	)
	if err := m.Load(""); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	c := m.Get()

	if c.Export.Format != "csv" || c.Export.Compression != "zstd" || !c.Export.Sidecar {
		t.Errorf("export = %+v", c.Export)
	}
	if !reflect.DeepEqual(c.Export.IgnoreStreams, []string{"baseline"}) {
		t.Errorf("IgnoreStreams = %v", c.Export.IgnoreStreams)
	}
	if c.Export.Template != "{plan_name}/{uid}" || c.Export.Jobs != 3 {
		t.Errorf("env overrides not applied: %+v", c.Export)
	}
	if c.Logging.Level != "debug" || c.Checkpoint.Retention != 24*time.Hour {
		t.Errorf("logging = %+v, checkpoint = %+v", c.Logging, c.Checkpoint)
	}
	if !c.Telemetry.Enabled || c.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("telemetry = %+v", c.Telemetry)
	}
	if got := m.GetPaths(); !reflect.DeepEqual(got, []string{system, project}) {
		t.Errorf("GetPaths() = %v", got)
	}
}

func TestManager_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yaml", "export: [")

	tests := []struct {
		name     string
		search   []string
		explicit string
		env      map[string]string
	}{
		{"malformed file", []string{bad}, "", nil},
		{"missing explicit file", nil, filepath.Join(dir, "nope.yaml"), nil},
		{"bad bool", nil, "", map[string]string{"DOCEXPORT_SIDECAR": "maybe"}},
		{"bad int", nil, "", map[string]string{"DOCEXPORT_JOBS": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(WithSearchPaths(tt.search...), WithEnv(envMap(tt.env)))
			if err := m.Load(tt.explicit); err == nil {
				t.Error("Load() returned nil")
			}
		})
	}
}

func TestConfig_Serializer(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "plots.yaml", `
export:
  overwrite_policy: suffix
  sequence_check: strict
  schema_change: error
  timezone: UTC
  plots:
    - stream: primary
      x: motor
      y: det
    - x: time
      y: [a, b]
      z: c
`)
	m := NewManager(WithSearchPaths(), WithEnv(envMap(nil)))
	if err := m.Load(p); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg, err := m.Get().Serializer()
	if err != nil {
		t.Fatalf("Serializer() error: %v", err)
	}
	if cfg.OverwritePolicy != filemanager.PolicySuffix || cfg.SequenceCheck != serializer.SequenceStrict ||
		cfg.SchemaChange != serializer.SchemaError || cfg.Location != time.UTC {
		t.Errorf("Serializer() = %+v", cfg)
	}
	want := []serializer.Plot{
		{Stream: "primary", X: "motor", Y: []string{"det"}},
		{Stream: "primary", X: "time", Y: []string{"a", "b"}, Z: "c"},
	}
	if !reflect.DeepEqual(cfg.Plots, want) {
		t.Errorf("Plots = %+v, want %+v", cfg.Plots, want)
	}
}

func TestConfig_SerializerInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ExportConfig)
	}{
		{"policy", func(e *ExportConfig) { e.OverwritePolicy = "clobber" }},
		{"sequence", func(e *ExportConfig) { e.SequenceCheck = "lenient" }},
		{"schema", func(e *ExportConfig) { e.SchemaChange = "merge" }},
		{"timezone", func(e *ExportConfig) { e.Timezone = "Mars/Olympus" }},
		{"format", func(e *ExportConfig) { e.Format = "hdf5" }},
		{"plot key", func(e *ExportConfig) { e.Plots = []map[string]any{{"x": "a", "colour": "red"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c.Export)
			if _, err := c.Serializer(); !errors.Is(err, exerrors.ErrInvalidConfig) {
				t.Errorf("Serializer() error = %v, want InvalidConfig", err)
			}
		})
	}
}

func TestConfig_Backends(t *testing.T) {
	ctx := context.Background()
	c := Default()
	c.Export.Directory = t.TempDir()
	c.Checkpoint.Directory = t.TempDir()

	if _, err := c.ObjectStorage(ctx); err != nil {
		t.Errorf("ObjectStorage(local) error: %v", err)
	}
	c.Storage.Backend = "s3"
	if _, err := c.ObjectStorage(ctx); !errors.Is(err, exerrors.ErrInvalidConfig) {
		t.Errorf("ObjectStorage(s3 without bucket) error = %v", err)
	}

	if b, err := c.Checkpoints(ctx); err != nil || b != nil {
		t.Errorf("Checkpoints(none) = %v, %v", b, err)
	}
	c.Checkpoint.Backend = "file"
	b, err := c.Checkpoints(ctx)
	if err != nil {
		t.Fatalf("Checkpoints(file) error: %v", err)
	}
	if _, ok := b.(*checkpoint.FileBackend); !ok {
		t.Errorf("Checkpoints(file) = %T", b)
	}
	c.Checkpoint.Backend = "etcd"
	if _, err := c.Checkpoints(ctx); !errors.Is(err, exerrors.ErrInvalidConfig) {
		t.Errorf("Checkpoints(etcd) error = %v", err)
	}
}

func TestConfig_Logger(t *testing.T) {
	c := Default()
	c.Logging.Format = "json"
	c.Logging.Level = "warn"

	var buf bytes.Buffer
	log, err := c.Logger(&buf)
	if err != nil {
		t.Fatalf("Logger() error: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "run", "abc")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `"run":"abc"`) {
		t.Errorf("log output = %q", out)
	}

	c.Logging.Level = "loud"
	if _, err := c.Logger(&buf); err == nil {
		t.Error("Logger() accepted an unknown level")
	}
}
