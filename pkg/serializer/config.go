package serializer

import (
	"path"
	"strings"
	"time"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/filemanager"
	"github.com/logflow/docexport/pkg/format"
	"github.com/logflow/docexport/pkg/template"
)

// SequenceCheck decides how a non-increasing seq_num is treated.
type SequenceCheck string

const (
	// SequenceWarn skips the event and keeps the run open.
	SequenceWarn SequenceCheck = "warn"
	// SequenceStrict fails the run.
	SequenceStrict SequenceCheck = "strict"
)

// SchemaChange decides what happens when a stream is redefined with a
// different schema.
type SchemaChange string

const (
	// SchemaNewFile starts a new generation of the stream in a new file.
	SchemaNewFile SchemaChange = "new_file"
	// SchemaError fails the run with a SchemaConflict error.
	SchemaError SchemaChange = "error"
)

// Plot annotates a stream with the axes and signals of a live plot.
type Plot struct {
	Stream string   `yaml:"stream" mapstructure:"stream" json:"stream"`
	X      string   `yaml:"x" mapstructure:"x" json:"x"`
	Y      []string `yaml:"y" mapstructure:"y" json:"y"`
	Z      string   `yaml:"z" mapstructure:"z" json:"z,omitempty"`
}

// Config holds the export options of a run.
type Config struct {
	// Template names the output files; see package template.
	Template string

	// Format is the registered output format name.
	Format        string
	FormatOptions format.Options

	OverwritePolicy filemanager.Policy
	SequenceCheck   SequenceCheck
	SchemaChange    SchemaChange

	// Sidecar writes a <prefix>-metadata.json file per run.
	Sidecar bool

	// IgnoreStreams are glob patterns of streams that are dropped.
	IgnoreStreams []string

	// MetadataStreams are merged into the run's live metadata instead of
	// being written as files.
	MetadataStreams []string

	Plots []Plot

	// Location is the time zone of strftime placeholders and ISO times.
	Location *time.Location
}

// DefaultConfig returns the default export options.
func DefaultConfig() Config {
	return Config{
		Template:        template.Default,
		Format:          "jsonl",
		FormatOptions:   format.DefaultOptions(),
		OverwritePolicy: filemanager.PolicyError,
		SequenceCheck:   SequenceWarn,
		SchemaChange:    SchemaNewFile,
		IgnoreStreams:   []string{"*_fits_readying_*"},
		MetadataStreams: []string{"_live_metadata_reading_"},
		Location:        time.Local,
	}
}

// ParseSequenceCheck parses a sequence_check value; "" means warn.
func ParseSequenceCheck(s string) (SequenceCheck, error) {
	switch SequenceCheck(strings.ToLower(strings.TrimSpace(s))) {
	case "", SequenceWarn:
		return SequenceWarn, nil
	case SequenceStrict:
		return SequenceStrict, nil
	}
	return "", exerrors.Newf(exerrors.CodeInvalidConfig, "unknown sequence_check %q", s)
}

// ParseSchemaChange parses a schema_change value; "" means new_file.
func ParseSchemaChange(s string) (SchemaChange, error) {
	switch SchemaChange(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemaNewFile:
		return SchemaNewFile, nil
	case SchemaError:
		return SchemaError, nil
	}
	return "", exerrors.Newf(exerrors.CodeInvalidConfig, "unknown schema_change %q", s)
}

// Validate checks the configuration and fills unset values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if strings.TrimSpace(c.Template) == "" {
		return exerrors.New(exerrors.CodeInvalidConfig, "template is required")
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if _, err := format.Lookup(c.Format); err != nil {
		return err
	}
	if c.FormatOptions.Compression == "" {
		c.FormatOptions.Compression = def.FormatOptions.Compression
	}

	var err error
	if c.OverwritePolicy, err = filemanager.ParsePolicy(string(c.OverwritePolicy)); err != nil {
		return err
	}
	if c.SequenceCheck, err = ParseSequenceCheck(string(c.SequenceCheck)); err != nil {
		return err
	}
	if c.SchemaChange, err = ParseSchemaChange(string(c.SchemaChange)); err != nil {
		return err
	}

	for _, patterns := range [][]string{c.IgnoreStreams, c.MetadataStreams} {
		for _, p := range patterns {
			if _, err := path.Match(p, ""); err != nil {
				return exerrors.Wrapf(err, exerrors.CodeInvalidConfig, "bad stream pattern %q", p)
			}
		}
	}
	for i, p := range c.Plots {
		if p.Stream == "" {
			c.Plots[i].Stream = "primary"
		}
		if p.X == "" && p.Z == "" && len(p.Y) == 0 {
			return exerrors.Newf(exerrors.CodeInvalidConfig, "plot %d names no signals", i)
		}
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if _, err := template.Compile(c.Template); err != nil {
		return exerrors.Wrap(err, exerrors.CodeInvalidConfig, "invalid template")
	}
	return nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
