//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestPublishSubscribeLive(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := Connect(url, "sitechat-test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	got := make(chan report, 1)
	sub, err := Subscribe(nc, SubjectIndexRebuilt, nil, func(_ context.Context, r report) { got <- r })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish(SubjectIndexRebuilt, []byte("not json"))
	if err := Publish(context.Background(), nc, SubjectIndexRebuilt, report{RunID: "live", Chunks: 3}); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-got:
		if r.RunID != "live" {
			t.Fatalf("got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}
