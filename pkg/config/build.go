package config

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/logflow/docexport/pkg/checkpoint"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/interfaces"
	"github.com/logflow/docexport/pkg/serializer"
	"github.com/logflow/docexport/pkg/storage/object"
	"github.com/logflow/docexport/pkg/storage/s3"
)

// Serializer converts the export section into serializer options.
func (c *Config) Serializer() (serializer.Config, error) {
	e := c.Export
	cfg := serializer.DefaultConfig()
	cfg.Template = e.Template
	cfg.Format = e.Format
	cfg.FormatOptions.Compression = e.Compression
	if e.BatchSize > 0 {
		cfg.FormatOptions.BatchSize = e.BatchSize
	}
	cfg.Sidecar = e.Sidecar
	cfg.IgnoreStreams = e.IgnoreStreams
	cfg.MetadataStreams = e.MetadataStreams

	var err error
	if cfg.OverwritePolicy, err = filemanager.ParsePolicy(e.OverwritePolicy); err != nil {
		return cfg, err
	}
	if cfg.SequenceCheck, err = serializer.ParseSequenceCheck(e.SequenceCheck); err != nil {
		return cfg, err
	}
	if cfg.SchemaChange, err = serializer.ParseSchemaChange(e.SchemaChange); err != nil {
		return cfg, err
	}
	if cfg.Location, err = location(e.Timezone); err != nil {
		return cfg, err
	}
	if cfg.Plots, err = decodePlots(e.Plots); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func location(name string) (*time.Location, error) {
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "unknown timezone").WithContext("timezone", name)
	}
	return loc, nil
}

func decodePlots(raw []map[string]any) ([]serializer.Plot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var plots []serializer.Plot
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &plots,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "invalid plots")
	}
	return plots, nil
}

// ObjectStorage opens the artifact store named by the storage section.
// Local storage is rooted at the export directory.
func (c *Config) ObjectStorage(ctx context.Context) (interfaces.ObjectStorage, error) {
	switch c.Storage.Backend {
	case "", "local":
		store, err := object.NewLocalStorage(c.Export.Directory)
		if err != nil {
			return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot open export directory")
		}
		return store, nil
	case "s3":
		sc := c.Storage.S3
		if sc.Bucket == "" {
			return nil, exerrors.New(exerrors.CodeInvalidConfig, "storage.s3.bucket is required")
		}
		cfg := s3.DefaultConfig(sc.Bucket, sc.Region)
		cfg.Prefix = sc.Prefix
		cfg.Endpoint = sc.Endpoint
		cfg.UsePathStyle = sc.UsePathStyle
		if sc.PartSize > 0 {
			cfg.PartSize = sc.PartSize
		}
		client, err := s3.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, exerrors.New(exerrors.CodeInvalidConfig, "unknown storage backend").
		WithContext("backend", c.Storage.Backend)
}

// Checkpoints opens the checkpoint backend, or returns nil when disabled.
// A configured mirror receives best-effort copies.
func (c *Config) Checkpoints(ctx context.Context) (checkpoint.Backend, error) {
	primary, err := c.checkpointBackend(ctx, c.Checkpoint.Backend)
	if err != nil || primary == nil {
		return primary, err
	}
	if c.Checkpoint.Mirror == "" || c.Checkpoint.Mirror == c.Checkpoint.Backend {
		return primary, nil
	}
	mirror, err := c.checkpointBackend(ctx, c.Checkpoint.Mirror)
	if err != nil || mirror == nil {
		return primary, err
	}
	return checkpoint.NewMultiBackend(primary, mirror), nil
}

func (c *Config) checkpointBackend(ctx context.Context, name string) (checkpoint.Backend, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "file":
		b, err := checkpoint.NewFileBackend(c.Checkpoint.Directory)
		if err != nil {
			return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "cannot open checkpoint directory")
		}
		return b, nil
	case "redis":
		rc := c.Checkpoint.Redis
		if rc.Address == "" {
			return nil, exerrors.New(exerrors.CodeInvalidConfig, "checkpoint.redis.address is required")
		}
		cfg := checkpoint.DefaultRedisConfig(rc.Address)
		cfg.Password = rc.Password
		cfg.Database = rc.Database
		if rc.Prefix != "" {
			cfg.Prefix = rc.Prefix
		}
		if rc.TTL > 0 {
			cfg.TTL = rc.TTL
		}
		b, err := checkpoint.NewRedisBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, exerrors.New(exerrors.CodeInvalidConfig, "unknown checkpoint backend").WithContext("backend", name)
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return nil, exerrors.Wrap(err, exerrors.CodeInvalidConfig, "invalid logging.level")
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, exerrors.New(exerrors.CodeInvalidConfig, "invalid logging.format").
		WithContext("format", c.Logging.Format)
}
