package infra

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := NewRedisClient(context.Background(), "", "x"); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewRedisClient(context.Background(), "not a url", "x"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
