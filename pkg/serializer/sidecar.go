package serializer

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/template"
)

// sidecarLabel is the file manager label of the run metadata file.
const sidecarLabel = "_sidecar"

type plotInfo struct {
	Axes             []string `json:"axes,omitempty"`
	Signal           string   `json:"signal,omitempty"`
	AuxiliarySignals []string `json:"auxiliary_signals,omitempty"`
}

type sidecarDoc struct {
	RunUID       string                 `json:"run_uid"`
	StartTime    string                 `json:"start_time"`
	EndTime      string                 `json:"end_time,omitempty"`
	ExitStatus   string                 `json:"exit_status,omitempty"`
	Start        map[string]any         `json:"start"`
	Stop         map[string]any         `json:"stop,omitempty"`
	LiveMetadata map[string]any         `json:"live_metadata,omitempty"`
	Plots        map[string]plotInfo    `json:"plots,omitempty"`
	Files        map[string][]string    `json:"files"`
	Streams      map[string]StreamStats `json:"streams"`
}

func (s *Serializer) sidecar() sidecarDoc {
	doc := sidecarDoc{
		RunUID:    s.start.UID,
		StartTime: model.ISOTime(s.start.Time, s.cfg.Location),
		Start:     s.start.Metadata,
		Files:     map[string][]string{},
		Streams:   map[string]StreamStats{},
	}
	if s.stop != nil {
		doc.EndTime = model.ISOTime(s.stop.Time, s.cfg.Location)
		doc.ExitStatus = s.stop.ExitStatus
		doc.Stop = s.stop.Metadata
	}
	if len(s.live) > 0 {
		doc.LiveMetadata = s.live
	}
	for _, name := range sortedNames(s.streams) {
		st := s.streams[name]
		doc.Streams[name] = st.stats()
		if len(st.files) > 0 {
			doc.Files[name] = st.files
		}
		axes, signals := plotAnnotations(s.cfg.Plots, name)
		if len(axes)+len(signals) == 0 {
			continue
		}
		info := plotInfo{Axes: axes}
		if len(signals) > 0 {
			info.Signal = signals[0]
			info.AuxiliarySignals = signals[1:]
		}
		if doc.Plots == nil {
			doc.Plots = map[string]plotInfo{}
		}
		doc.Plots[name] = info
	}
	return doc
}

// writeSidecar writes the run metadata file next to the stream files. It is
// committed together with them.
func (s *Serializer) writeSidecar(ctx context.Context) error {
	p, err := s.outputPath("metadata", nil, 1, ".json")
	if err != nil {
		fallback := template.CleanComponent(s.start.UID) + "-metadata.json"
		s.logger.Warn("sidecar name falls back to run uid", "path", fallback, "error", err)
		p = fallback
	}
	p, err = s.files.Reserve(ctx, s.owner, sidecarLabel, p, s.cfg.OverwritePolicy)
	if err != nil {
		return err
	}
	h, err := s.files.Acquire(ctx, s.owner, p)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.sidecar(), "", "  ")
	if err != nil {
		return exerrors.Wrap(err, exerrors.CodeInvalidDocument, "run metadata is not serializable")
	}
	if _, err := s.files.Write(h, append(data, '\n')); err != nil {
		return err
	}
	return nil
}
