package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linyora/settlement/internal/logging"
)

func TestRedisNotifierPublishesOnRecipientChannel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	ctx := context.Background()
	sub := cache.Subscribe(ctx, ChannelPrefix+"provider-1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewRedisNotifier(cache)
	if err := n.Send(ctx, Message{Kind: "payout.reviewed", Destination: "provider-1", Body: `{"status":"approved"}`}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Message
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != "payout.reviewed" || got.Destination != "provider-1" {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published notification")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(context.Context, Message) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutReachesEveryNotifier(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	err := Fanout{a, NewLoggerNotifier(logging.Discard()), b}.Send(context.Background(), Message{Kind: "x"})
	if err == nil {
		t.Fatal("expected first failure to be returned")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both notifiers called once, got %d and %d", a.calls, b.calls)
	}
}
