package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSetup_Disabled(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, DefaultConfig())
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if p.Enabled() {
		t.Error("disabled config produced an exporting provider")
	}

	ctx, span := p.Tracer().Start(ctx, "test")
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()

	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "ParentBased"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.Documents.Add(10)
	m.Events.Add(8)
	m.RunsClosed.Add(1)
	for i := 1; i <= 100; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	s := m.Summary()
	if s.Documents != 10 || s.Events != 8 || s.RunsClosed != 1 {
		t.Errorf("Summary() = %+v", s)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", s.P95)
	}
	data, err := s.ToJSON()
	if err != nil || !strings.Contains(string(data), `"documents":10`) {
		t.Errorf("ToJSON() = %s, %v", data, err)
	}
}

func TestMetrics_SampleWindow(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < maxLatencySamples+10; i++ {
		m.RecordLatency(time.Duration(i))
	}
	if got := m.Percentile(0); got != 10 {
		t.Errorf("oldest kept sample = %v, want 10", got)
	}
}
