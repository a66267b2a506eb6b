package serializer

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/logflow/docexport/internal/model"
	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/format"
	"github.com/logflow/docexport/pkg/normalize"
	"github.com/logflow/docexport/pkg/template"
	"github.com/logflow/docexport/pkg/validation"
)

func (s *Serializer) handleEventPage(ctx context.Context, p model.EventPage) error {
	errs := &exerrors.MultiError{}
	for _, ev := range p.Events() {
		// Page columns carry raw values; unpacked rows get the same
		// normalization a single event gets when it is decoded.
		data, err := normalize.Payload(ev.Data)
		if err != nil {
			return exerrors.Wrap(err, exerrors.CodeInvalidDocument, "cannot normalize event page row").
				WithContext("descriptor", p.Descriptor).
				WithContext("seq_num", ev.SeqNum)
		}
		ev.Data = data
		err = s.handleEvent(ctx, ev)
		if exerrors.IsFatal(err) {
			return err
		}
		errs.Add(err)
	}
	return errs.Combined()
}

func (s *Serializer) handleEvent(ctx context.Context, ev model.Event) error {
	desc, ok := s.descriptors[ev.Descriptor]
	if !ok {
		return exerrors.OutOfSequence(string(model.KindEvent), "event precedes its descriptor").
			WithContext("descriptor", ev.Descriptor)
	}

	// Positional values are zipped with the member names the descriptor
	// declares for them.
	for key, value := range ev.Data {
		if dk, declared := desc.DataKeys[key]; declared {
			if names := dk.MemberNames(); len(names) > 0 {
				ev.Data[key] = normalize.WithFields(value, names)
			}
		}
	}
	if res := validation.Validate(model.KindEvent, ev, s); !res.OK() {
		return res.Err
	}

	switch s.roles[ev.Descriptor] {
	case roleIgnored:
		return nil
	case roleMetadata:
		for k, v := range ev.Data {
			s.live[k] = v
		}
		return nil
	}

	st := s.byDesc[ev.Descriptor]
	if !st.accept(ev.SeqNum) {
		st.skipped++
		err := exerrors.OutOfOrderEvent(st.name, ev.SeqNum, st.lastSeq)
		if s.cfg.SequenceCheck == SequenceStrict {
			return exerrors.Wrap(err, exerrors.CodeOutOfSequence, "strict sequence check failed")
		}
		s.logger.Warn("skipping out-of-order event", "stream", st.name, "seq_num", ev.SeqNum, "last_seq_num", st.lastSeq)
		return err
	}

	if err := s.resolveExternal(desc, ev); err != nil {
		return err
	}

	if st.enc == nil {
		if err := s.openStream(ctx, st, ev.Data); err != nil {
			return err
		}
	}

	rec := format.Record{
		SeqNum:  ev.SeqNum,
		Time:    ev.Time,
		Elapsed: ev.Time - s.start.Time,
		Values:  st.schema.Values(ev.Data),
	}
	if err := st.enc.Encode(rec); err != nil {
		if exerrors.GetCode(err) == exerrors.CodeUnknown {
			err = exerrors.FileWrite(err, st.handle.Location())
		}
		return err
	}
	st.written(ev.SeqNum)
	return nil
}

// resolveExternal replaces datum ids of external keys with their locations.
// Keys the producer marked as filled already carry the data.
func (s *Serializer) resolveExternal(desc model.Descriptor, ev model.Event) error {
	for key, dk := range desc.DataKeys {
		if !dk.IsExternal() || ev.Filled[key] {
			continue
		}
		value, present := ev.Data[key]
		if !present || value == nil {
			continue
		}
		id, ok := value.(string)
		if !ok || id == "" {
			return exerrors.New(exerrors.CodeInvalidDocument, "external field does not hold a datum id").
				WithContext("stream", desc.Name).
				WithContext("field", key)
		}
		loc, err := s.resources.Resolve(id)
		if err != nil {
			return err
		}
		ev.Data[key] = loc
	}
	return nil
}

// openStream reserves and opens the file of the current generation of st.
// sample is the first event's payload.
func (s *Serializer) openStream(ctx context.Context, st *stream, sample map[string]any) error {
	p, err := s.outputPath(st.name, st.desc.Metadata, st.generation, s.format.Extension)
	if err != nil {
		return err
	}
	p, err = s.files.Reserve(ctx, s.owner, st.name, p, s.cfg.OverwritePolicy)
	if err != nil {
		return err
	}
	h, err := s.files.Acquire(ctx, s.owner, p)
	if err != nil {
		return err
	}

	schema := format.NewSchema(st.desc, sample)
	schema.Metadata = s.streamMetadata(st)
	enc, err := s.format.New(s.files.Writer(h), schema, s.cfg.FormatOptions)
	if err != nil {
		return exerrors.FileWrite(err, h.Location())
	}
	s.files.Attach(h, enc)

	st.handle, st.enc, st.schema = h, enc, schema
	st.files = append(st.files, h.Location())
	s.logger.Info("writing stream", "stream", st.name, "generation", st.generation, "path", h.Location())
	return nil
}

// outputPath resolves the template for a stream. Templates that do not name
// the stream get it appended; later generations get a _v<n> suffix.
func (s *Serializer) outputPath(streamName string, descMeta map[string]any, generation int, ext string) (string, error) {
	p, err := s.tpl.Resolve(template.Context{
		Start:      s.start.Metadata,
		StreamName: streamName,
		Descriptor: descMeta,
	})
	if err != nil {
		return "", err
	}
	if !s.tpl.References(template.KeyStreamName) {
		p += "_" + template.CleanComponent(streamName)
	}
	if generation > 1 {
		p += fmt.Sprintf("_v%d", generation)
	}
	return p + ext, nil
}

// streamMetadata is the file-level metadata of a stream generation.
func (s *Serializer) streamMetadata(st *stream) map[string]string {
	md := map[string]string{
		"run_uid":        s.start.UID,
		"stream_name":    st.name,
		"descriptor_uid": st.desc.UID,
		"generation":     fmt.Sprint(st.generation),
		"start_time":     model.ISOTime(s.start.Time, s.cfg.Location),
	}
	if v, ok := s.start.Metadata["plan_name"].(string); ok {
		md["plan_name"] = v
	}
	axes, signals := plotAnnotations(s.cfg.Plots, st.name)
	if len(axes) > 0 {
		md["axes"] = strings.Join(axes, ",")
	}
	if len(signals) > 0 {
		md["signal"] = signals[0]
	}
	if len(signals) > 1 {
		md["auxiliary_signals"] = strings.Join(signals[1:], ",")
	}
	if units := units(st.desc); len(units) > 0 {
		if b, err := json.Marshal(units); err == nil {
			md["units"] = string(b)
		}
	}
	return md
}

// units collects the units declared on data keys, if any.
func units(d model.Descriptor) map[string]string {
	out := map[string]string{}
	for key := range d.DataKeys {
		raw, _ := d.Metadata["data_keys"].(map[string]any)
		entry, _ := raw[key].(map[string]any)
		if u, ok := entry["units"].(string); ok && u != "" {
			out[key] = u
		}
	}
	return out
}
