package core

import (
	"context"
	"testing"
	"time"
)

func TestPoller_FiresAndRearms(t *testing.T) {
	out := make(chan PollReq, 8)
	p := NewPoller(out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	a := CapAddr{Domain: "env", Kind: "temperature", Name: "probe"}
	p.Upsert(a, "read", 30*time.Millisecond, 0)

	for i := 0; i < 3; i++ {
		select {
		case r := <-out:
			if r.Addr != a || r.Verb != "read" || r.Every != 30*time.Millisecond {
				t.Fatalf("unexpected request %+v", r)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("fire %d did not arrive", i)
		}
	}
}

func TestPoller_StopAddrRemovesAllVerbs(t *testing.T) {
	out := make(chan PollReq, 8)
	p := NewPoller(out)

	a := CapAddr{Domain: "env", Kind: "humidity", Name: "probe"}
	b := CapAddr{Domain: "env", Kind: "temperature", Name: "probe"}
	p.Upsert(a, "read", time.Second, 0)
	p.Upsert(a, "last", time.Second, 0)
	p.Upsert(b, "read", time.Second, 0)
	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}

	p.StopAddr(a)
	if p.Len() != 1 {
		t.Fatalf("Len after StopAddr = %d, want 1", p.Len())
	}
	p.Stop(b, "read")
	if p.Len() != 0 {
		t.Fatalf("Len after Stop = %d, want 0", p.Len())
	}
}

func TestPoller_IgnoresInvalidSchedules(t *testing.T) {
	p := NewPoller(make(chan PollReq, 1))
	a := CapAddr{Domain: "env", Kind: "humidity", Name: "probe"}
	p.Upsert(a, "read", 0, 0)
	p.Upsert(a, "", time.Second, 0)
	if p.Len() != 0 {
		t.Fatalf("Len = %d, want 0", p.Len())
	}
}

func TestPoller_UpsertReschedules(t *testing.T) {
	out := make(chan PollReq, 8)
	p := NewPoller(out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	a := CapAddr{Domain: "env", Kind: "temperature", Name: "probe"}
	p.Upsert(a, "read", time.Hour, 0)
	p.Upsert(a, "read", 20*time.Millisecond, 0)
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}
	select {
	case <-out:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("rescheduled poll did not fire")
	}
}
