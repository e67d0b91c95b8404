package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pinger reports whether the persistence sink is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityMonitor tracks whether the persistence sink is reachable and notifies
// subscribers on every transition.
type ConnectivityMonitor struct {
	pinger   Pinger
	interval time.Duration
	log      zerolog.Logger

	mu          sync.RWMutex
	online      bool
	subscribers map[chan bool]struct{}
}

// NewConnectivityMonitor starts optimistic: online until a probe or a failed write says otherwise.
func NewConnectivityMonitor(pinger Pinger, interval time.Duration, log zerolog.Logger) *ConnectivityMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ConnectivityMonitor{
		pinger:      pinger,
		interval:    interval,
		log:         log,
		online:      true,
		subscribers: make(map[chan bool]struct{}),
	}
}

func (c *ConnectivityMonitor) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Set records the reachability state and broadcasts it if it changed.
func (c *ConnectivityMonitor) Set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	c.log.Info().Bool("online", online).Msg("connectivity changed")
	for ch := range c.subscribers {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

// Probe pings the sink once and records the result.
func (c *ConnectivityMonitor) Probe(ctx context.Context) bool {
	if c.pinger == nil {
		return c.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	err := c.pinger.Ping(pctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("persistence probe failed")
	}
	c.Set(err == nil)
	return err == nil
}

// Run probes immediately and then on every interval until ctx is done.
func (c *ConnectivityMonitor) Run(ctx context.Context) {
	c.Probe(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}

// Subscribe returns a channel receiving the new state on each transition.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *ConnectivityMonitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}
