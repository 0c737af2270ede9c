package vectorindex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("knowledged.vectorindex")

// instrumented records metrics and spans around another Index.
type instrumented struct {
	next    Index
	backend string
}

// Instrument wraps idx so every call is counted, timed and traced under the
// given backend label.
func Instrument(idx Index, backend string) Index {
	return &instrumented{next: idx, backend: backend}
}

func (i *instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "vectorindex."+op,
		trace.WithAttributes(append(attrs, attribute.String("backend", i.backend))...))
	start := time.Now()
	return ctx, func(err error) {
		OperationDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
		OperationsTotal.WithLabelValues(i.backend, op, resultLabel(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}
}

func (i *instrumented) Insert(ctx context.Context, records []Record) (err error) {
	ctx, done := i.observe(ctx, "insert", attribute.Int("record_count", len(records)))
	defer func() { done(err) }()

	err = i.next.Insert(ctx, records)
	if err == nil {
		RecordsWritten.WithLabelValues(i.backend).Add(float64(len(records)))
	}
	return err
}

func (i *instrumented) QueryNearest(ctx context.Context, vector []float32, k int) (matches []Match, err error) {
	ctx, done := i.observe(ctx, "query", attribute.Int("k", k))
	defer func() { done(err) }()
	return i.next.QueryNearest(ctx, vector, k)
}

func (i *instrumented) DeleteByIDs(ctx context.Context, ids []string) (err error) {
	ctx, done := i.observe(ctx, "delete", attribute.Int("id_count", len(ids)))
	defer func() { done(err) }()
	return i.next.DeleteByIDs(ctx, ids)
}

func (i *instrumented) Close() error { return i.next.Close() }
