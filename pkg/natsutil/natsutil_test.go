package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type report struct {
	RunID  string `json:"run_id"`
	Chunks int    `json:"chunks"`
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("missing") != "" || c.Keys() != nil {
		t.Fatal("empty carrier")
	}
	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" || len(c.Keys()) != 1 {
		t.Fatalf("carrier = %v", msg.Header)
	}
}

func TestEncodeDecode(t *testing.T) {
	msg, err := Encode(context.Background(), SubjectIndexRebuilt, report{RunID: "r1", Chunks: 7})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != SubjectIndexRebuilt {
		t.Fatalf("subject = %s", msg.Subject)
	}
	ctx, got, err := Decode[report](msg)
	if err != nil || ctx == nil {
		t.Fatal(err)
	}
	if got.RunID != "r1" || got.Chunks != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode[report](&nats.Msg{Subject: "x", Data: []byte("{")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTraceContextTravels(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := Encode(ctx, SubjectIndexRebuilt, report{})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}
	got, _, _ := Decode[report](msg)
	if trace.SpanContextFromContext(got).TraceID() != tid {
		t.Fatal("trace id lost")
	}
}
