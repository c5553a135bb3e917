// Package solo tracks the local single-player game: a one-second clock and a
// score fed by device events. One goroutine owns the state; time ticks and
// score deltas can never interleave inconsistently.
package solo

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/codec"
)

// GameState is the tracker's read-only snapshot. Score and ElapsedSeconds
// only grow while Active; Reset is the one way back to zero.
type GameState struct {
	Score          int
	ElapsedSeconds int
	Active         bool
}

type msg interface{ isTrackerMsg() }

type startMsg struct{ reply chan struct{} }
type stopMsg struct{ reply chan struct{} }
type resetMsg struct{ reply chan struct{} }
type scoreMsg struct{ delta int }
type stateMsg struct{ reply chan GameState }

func (startMsg) isTrackerMsg() {}
func (stopMsg) isTrackerMsg()  {}
func (resetMsg) isTrackerMsg() {}
func (scoreMsg) isTrackerMsg() {}
func (stateMsg) isTrackerMsg() {}

type Tracker struct {
	inbox    chan msg
	interval time.Duration
	log      *zap.Logger
	quit     chan struct{}
	done     chan struct{}

	// owned by the loop
	state  GameState
	ticker *time.Ticker
}

func NewTracker(log *zap.Logger) *Tracker {
	return NewTrackerWithInterval(log, time.Second)
}

// NewTrackerWithInterval exists so tests can run the clock fast.
func NewTrackerWithInterval(log *zap.Logger, interval time.Duration) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		inbox:    make(chan msg, 16),
		interval: interval,
		log:      log,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.loop()
	return t
}

// Start begins the clock. No-op if already running.
func (t *Tracker) Start() { t.roundTrip(func(r chan struct{}) msg { return startMsg{reply: r} }) }

// Stop halts the clock; score and elapsed time are preserved.
func (t *Tracker) Stop() { t.roundTrip(func(r chan struct{}) msg { return stopMsg{reply: r} }) }

// Reset stops the clock and zeroes the state. Calling it twice is the same
// as calling it once.
func (t *Tracker) Reset() { t.roundTrip(func(r chan struct{}) msg { return resetMsg{reply: r} }) }

// AddScore applies a score delta. Ignored while inactive or for a negative
// delta (which the codec never produces from a well-formed frame anyway).
func (t *Tracker) AddScore(delta int) {
	select {
	case t.inbox <- scoreMsg{delta: delta}:
	case <-t.quit:
	}
}

// ApplyEvent routes a decoded device event into the tracker. Only score
// events matter here; everything else is for other consumers.
func (t *Tracker) ApplyEvent(ev codec.Event) {
	if ev.Type == codec.EventScore {
		t.AddScore(ev.Points)
	}
}

func (t *Tracker) State() GameState {
	reply := make(chan GameState, 1)
	select {
	case t.inbox <- stateMsg{reply: reply}:
		return <-reply
	case <-t.quit:
		return GameState{}
	}
}

// Close releases the timer and ends the loop.
func (t *Tracker) Close() {
	select {
	case <-t.quit:
	default:
		close(t.quit)
	}
	<-t.done
}

// FormatTime renders elapsed seconds as M:SS. Minutes keep counting past an
// hour so a long session never wraps.
func FormatTime(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func (t *Tracker) roundTrip(build func(chan struct{}) msg) {
	reply := make(chan struct{}, 1)
	select {
	case t.inbox <- build(reply):
		<-reply
	case <-t.quit:
	}
}

func (t *Tracker) loop() {
	defer close(t.done)
	defer t.stopTicker()
	for {
		var tickC <-chan time.Time
		if t.ticker != nil {
			tickC = t.ticker.C
		}
		select {
		case <-t.quit:
			return
		case <-tickC:
			t.state.ElapsedSeconds++
		case m := <-t.inbox:
			t.handle(m)
		}
	}
}

func (t *Tracker) handle(m msg) {
	switch m := m.(type) {
	case startMsg:
		if !t.state.Active {
			t.state.Active = true
			t.ticker = time.NewTicker(t.interval)
		}
		m.reply <- struct{}{}
	case stopMsg:
		t.state.Active = false
		t.stopTicker()
		m.reply <- struct{}{}
	case resetMsg:
		t.state = GameState{}
		t.stopTicker()
		m.reply <- struct{}{}
	case scoreMsg:
		if t.state.Active && m.delta >= 0 {
			t.state.Score += m.delta
		}
	case stateMsg:
		m.reply <- t.state
	}
}

func (t *Tracker) stopTicker() {
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}
