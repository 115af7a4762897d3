package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// fakeSpan is a recorded span for assertions in span_manager_test.go. It is
// not a real OTel span; fakeEmitter never talks to an SDK.
type fakeSpan struct {
	name       string
	kind       SpanKind
	parent     *fakeSpan
	start      time.Time
	end        time.Time
	ended      bool
	attrs      map[string]attribute.Value
	errType    string
	errMessage string
}

type histObservation struct {
	name  string
	value float64
	attrs []attribute.KeyValue
}

// fakeEmitter records every call instead of exporting anything, so tests can
// assert on the exact span tree and histogram observations §8 requires.
type fakeEmitter struct {
	spans        []*fakeSpan
	byHandle     map[*SpanHandle]*fakeSpan
	observations []histObservation
	shutdownCall bool
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{byHandle: make(map[*SpanHandle]*fakeSpan)}
}

func (f *fakeEmitter) StartSpan(_ context.Context, name string, kind SpanKind, parent *SpanHandle, start time.Time, attrs ...attribute.KeyValue) *SpanHandle {
	fs := &fakeSpan{name: name, kind: kind, start: start, attrs: make(map[string]attribute.Value)}
	if parent != nil {
		fs.parent = f.byHandle[parent]
	}
	for _, kv := range attrs {
		fs.attrs[string(kv.Key)] = kv.Value
	}
	f.spans = append(f.spans, fs)
	h := &SpanHandle{}
	f.byHandle[h] = fs
	return h
}

func (f *fakeEmitter) SetAttribute(h *SpanHandle, key string, value attribute.Value) {
	if fs, ok := f.byHandle[h]; ok {
		fs.attrs[key] = value
	}
}

func (f *fakeEmitter) RecordError(h *SpanHandle, errType, message string) {
	if fs, ok := f.byHandle[h]; ok {
		fs.errType = errType
		fs.errMessage = message
	}
}

func (f *fakeEmitter) EndSpan(h *SpanHandle, end time.Time) {
	if fs, ok := f.byHandle[h]; ok {
		fs.end = end
		fs.ended = true
	}
}

func (f *fakeEmitter) RecordHistogram(_ context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	f.observations = append(f.observations, histObservation{name: name, value: value, attrs: attrs})
}

func (f *fakeEmitter) Shutdown(_ context.Context, _ time.Duration) error {
	f.shutdownCall = true
	return nil
}

func (f *fakeEmitter) spanNamed(name string) *fakeSpan {
	for _, s := range f.spans {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (f *fakeEmitter) histogramValues(name string) []float64 {
	var vals []float64
	for _, o := range f.observations {
		if o.name == name {
			vals = append(vals, o.value)
		}
	}
	return vals
}
