// Package connectivity tracks whether calendar servers are believed to be
// reachable and announces online/offline transitions.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Prober checks reachability once.
type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProber reports online when any of Addrs accepts a TCP connection.
type TCPProber struct {
	Addrs   []string
	Timeout time.Duration
}

// Probe dials the addresses in order and stops at the first success.
func (p TCPProber) Probe(ctx context.Context) error {
	if len(p.Addrs) == 0 {
		return errors.New("no probe addresses configured")
	}
	d := net.Dialer{Timeout: p.Timeout}
	var errs []error
	for _, addr := range p.Addrs {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("all probes failed: %w", errors.Join(errs...))
}

// Config holds monitor settings.
type Config struct {
	// Interval between probes.
	Interval time.Duration
	Logger   *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		Logger:   log.New(os.Stderr, "[connectivity] ", log.LstdFlags),
	}
}

// Monitor owns the online flag. It starts online and flips only on a probe
// result that differs from the current state.
type Monitor struct {
	prober Prober
	config *Config
	online atomic.Bool

	mu   sync.Mutex
	subs []chan bool
}

// New creates a Monitor. Call Run to start probing.
func New(prober Prober, config *Config) (*Monitor, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	m := &Monitor{prober: prober, config: config}
	m.online.Store(true)
	return m, nil
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel that receives the new state on every
// transition. A subscriber that falls behind misses intermediate states
// but always sees the latest one.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	online := err == nil
	if m.online.Swap(online) == online {
		return online
	}

	if online {
		m.config.Logger.Println("Back online")
	} else {
		m.config.Logger.Printf("Gone offline: %v", err)
	}
	m.notify(online)
	return online
}

func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		// Replace a stale undelivered value with the latest state.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
