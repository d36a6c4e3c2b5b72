package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"smilecert/internal/config"
)

func TestInitPings(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Init(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer rdb.Close()

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.CheckGet(t, "k", "v")
}

func TestInitFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Init(context.Background(), config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected ping failure")
	}
	if _, err := Init(context.Background(), config.RedisConfig{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
