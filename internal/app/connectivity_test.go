package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type togglePinger struct{ err error }

func (p *togglePinger) Ping(context.Context) error { return p.err }

func TestConnectivityBroadcastsTransitionsOnly(t *testing.T) {
	pinger := &togglePinger{}
	c := NewConnectivityMonitor(pinger, time.Second, zerolog.Nop())
	ch, cancel := c.Subscribe()
	defer cancel()

	c.Probe(context.Background()) // still online, no transition
	select {
	case v := <-ch:
		t.Fatalf("unexpected transition %v", v)
	default:
	}

	pinger.err = errors.New("down")
	if c.Probe(context.Background()) {
		t.Fatalf("expected probe failure")
	}
	if v := <-ch; v {
		t.Fatalf("expected offline transition")
	}

	pinger.err = nil
	c.Probe(context.Background())
	if v := <-ch; !v {
		t.Fatalf("expected online transition")
	}
	if !c.Online() {
		t.Fatalf("expected online")
	}
}
