// Package tick runs the per-session timer (spec §4.5), grounded on the
// teacher's world.TickerManager: one cancellable goroutine per running
// session, real elapsed-delta accounting rather than a fixed step, and a
// map of active tickers guarded by a mutex.
package tick

import (
	"sync"
	"time"
)

const DefaultInterval = 100 * time.Millisecond

// Callback fires once per tick with the real elapsed delta since the
// previous tick (or since arming, for the first tick).
type Callback func(sessionID string, deltaMs int64, nowMs int64)

type ticker struct {
	stopCh  chan struct{}
	lastRun time.Time
}

// Engine owns one goroutine per running session.
type Engine struct {
	mu       sync.Mutex
	tickers  map[string]*ticker
	interval time.Duration
	onTick   Callback
}

func NewEngine(onTick Callback) *Engine {
	return &Engine{
		tickers:  make(map[string]*ticker),
		interval: DefaultInterval,
		onTick:   onTick,
	}
}

// Spawn arms a ticker for sessionID if one is not already running. A no-op
// if the session already has an active ticker.
func (e *Engine) Spawn(sessionID string) {
	e.mu.Lock()
	if _, exists := e.tickers[sessionID]; exists {
		e.mu.Unlock()
		return
	}
	t := &ticker{stopCh: make(chan struct{}), lastRun: time.Now()}
	e.tickers[sessionID] = t
	e.mu.Unlock()

	go e.run(sessionID, t)
}

// Stop cancels sessionID's ticker, if any. Safe to call on a session with
// no active ticker.
func (e *Engine) Stop(sessionID string) {
	e.mu.Lock()
	t, ok := e.tickers[sessionID]
	if ok {
		delete(e.tickers, sessionID)
	}
	e.mu.Unlock()
	if ok {
		close(t.stopCh)
	}
}

// StopAll cancels every running ticker, used during graceful shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	all := e.tickers
	e.tickers = make(map[string]*ticker)
	e.mu.Unlock()
	for _, t := range all {
		close(t.stopCh)
	}
}

// IsRunning reports whether sessionID currently has an armed ticker.
func (e *Engine) IsRunning(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tickers[sessionID]
	return ok
}

func (e *Engine) run(sessionID string, t *ticker) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			delta := now.Sub(t.lastRun)
			t.lastRun = now
			e.onTick(sessionID, delta.Milliseconds(), now.UnixMilli())
		case <-t.stopCh:
			return
		}
	}
}
