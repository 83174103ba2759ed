// Package tracing wraps opentracing-go span creation around stage dispatch
// and router round-trips, grounded on the teacher's tracing package
// (tracing.StartSpan/tracing.FinishSpan call sites in agent.send and
// AnswerWithError) and backed by uber/jaeger-client-go.
package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// InitJaeger configures a process-wide jaeger tracer reporting as
// serviceName, and installs it as opentracing.GlobalTracer(). Returns a
// closer to flush spans on shutdown.
func InitJaeger(serviceName string, samplerParam float64) (io interface{ Close() error }, err error) {
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeProbabilistic,
			Param: samplerParam,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartSpan opens a new span named operation, tagged with stageId/msgId/seq,
// rooted in ctx if it already carries a parent span.
func StartSpan(ctx context.Context, operation string, stageID int64, msgID string, seq uint16) (opentracing.Span, context.Context) {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, operation)
	span.SetTag("stageId", stageID)
	span.SetTag("msgId", msgID)
	span.SetTag("seq", seq)
	return span, spanCtx
}

// FinishSpan closes span, tagging it as an error span if err is non-nil
// (mirrors the teacher's tracing.FinishSpan(ctx, err) call sites).
func FinishSpan(span opentracing.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error.message", err.Error())
	}
	span.Finish()
}
