// Package device owns the lifecycle of a single connection to the scoring
// peripheral: connect, reconnect with backoff, command dispatch and inbound
// event fan-out. All session state is mutated by one goroutine; callers talk
// to it through an inbox channel.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/codec"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateSearching    State = "searching"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

var (
	// ErrNotConnected rejects Send while no link is up.
	ErrNotConnected = errors.New("not connected to device")
	// ErrPermanent marks a transport failure no retry can fix. Transports
	// wrap it; the session stops retrying and parks in StateError.
	ErrPermanent = errors.New("unrecoverable transport failure")
	// ErrConnectCancelled unblocks a Connect caller whose attempt was
	// cancelled by Disconnect or Close.
	ErrConnectCancelled = errors.New("connect cancelled")
	// ErrSendQueueFull means the outbound queue is saturated; the command
	// was not written.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrNoDiscovery means the configured transport cannot scan.
	ErrNoDiscovery = errors.New("transport does not support discovery")
)

// Snapshot is a read-only copy of the session for observers.
type Snapshot struct {
	State       State
	DeviceID    string
	DisplayName string
	Address     string
	RetryCount  int
	LastError   error
}

type Config struct {
	BackoffBase  time.Duration // first retry delay, doubles per attempt
	BackoffCap   time.Duration // retry delay ceiling
	WriteTimeout time.Duration
	EventBuffer  int
	SendBuffer   int
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 8 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	return c
}

type msg interface{ isSessionMsg() }

type connectMsg struct {
	target DeviceInfo
	reply  chan error
}

type disconnectMsg struct{ reply chan struct{} }

type sendMsg struct {
	cmd   string
	reply chan error
}

type snapshotMsg struct{ reply chan Snapshot }

type eventsMsg struct{ reply chan (<-chan codec.Event) }

type searchMsg struct {
	active bool
}

type dialResult struct {
	gen  int
	conn Conn
	err  error
}

type connLost struct {
	gen int
	err error
}

type retryFire struct{ gen int }

func (connectMsg) isSessionMsg()    {}
func (disconnectMsg) isSessionMsg() {}
func (sendMsg) isSessionMsg()       {}
func (snapshotMsg) isSessionMsg()   {}
func (eventsMsg) isSessionMsg()     {}
func (searchMsg) isSessionMsg()     {}
func (dialResult) isSessionMsg()    {}
func (connLost) isSessionMsg()      {}
func (retryFire) isSessionMsg()     {}

// Session manages one peripheral connection. Create with NewSession, tear
// down with Close.
type Session struct {
	transport Transport
	cfg       Config
	log       *zap.Logger

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// everything below is owned by the loop goroutine
	state        State
	target       DeviceInfo
	retryCount   int
	lastErr      error
	conn         Conn
	writeQ       chan string
	retryTimer   *time.Timer
	gen          int // connection incarnation; stale async results are dropped
	pendingReply chan error

	// events is the current inbound stream. Once a reader goroutine has
	// been started for it the reader owns closing it; before that the
	// loop does. streamOwned tracks which side is responsible.
	events      chan codec.Event
	streamOwned bool
}

func NewSession(t Transport, log *zap.Logger, cfg Config) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport: t,
		cfg:       cfg,
		log:       log,
		inbox:     make(chan msg, 32),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateDisconnected,
		events:    make(chan codec.Event, cfg.EventBuffer),
	}
	go s.loop()
	return s
}

// Connect dials target. It is a no-op when a connection attempt is already
// in flight or a link is up. The returned error reflects the first attempt
// only; failed attempts keep retrying in the background with exponential
// backoff until Disconnect.
func (s *Session) Connect(ctx context.Context, target DeviceInfo) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- connectMsg{target: target, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrConnectCancelled
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the link down and cancels any pending reconnect. It
// always succeeds from the caller's point of view.
func (s *Session) Disconnect() {
	reply := make(chan struct{}, 1)
	select {
	case s.inbox <- disconnectMsg{reply: reply}:
		<-reply
	case <-s.ctx.Done():
	}
}

// Send forwards one command token to the peripheral, fire and forget. Any
// acknowledgement arrives later as a regular inbound event.
func (s *Session) Send(cmd string) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- sendMsg{cmd: cmd, reply: reply}:
		return <-reply
	case <-s.ctx.Done():
		return ErrNotConnected
	}
}

// Events returns the current inbound event stream. The stream is closed when
// the link drops; a fresh one starts on the next Connected transition, so
// consumers re-call Events after their range loop ends.
func (s *Session) Events() <-chan codec.Event {
	reply := make(chan (<-chan codec.Event), 1)
	select {
	case s.inbox <- eventsMsg{reply: reply}:
		return <-reply
	case <-s.ctx.Done():
		closed := make(chan codec.Event)
		close(closed)
		return closed
	}
}

// Snapshot reports the session as it is right now.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- snapshotMsg{reply: reply}:
		return <-reply
	case <-s.ctx.Done():
		return Snapshot{State: StateDisconnected}
	}
}

// Discover scans for nearby peripherals when the transport supports it.
func (s *Session) Discover(ctx context.Context) ([]DeviceInfo, error) {
	d, ok := s.transport.(Discoverer)
	if !ok {
		return nil, ErrNoDiscovery
	}
	s.post(searchMsg{active: true})
	defer s.post(searchMsg{active: false})
	return d.Discover(ctx)
}

// Close ends the session. The connection, retry timer and event stream are
// all released.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m msg) {
	switch m := m.(type) {
	case connectMsg:
		if s.state == StateConnecting || s.state == StateConnected {
			m.reply <- nil
			return
		}
		s.stopRetry()
		s.gen++
		s.target = m.target
		s.state = StateConnecting
		s.pendingReply = m.reply
		s.dial()

	case disconnectMsg:
		s.gen++
		s.stopRetry()
		s.dropConn() // unblocks the reader, which closes the event stream
		if s.pendingReply != nil {
			s.pendingReply <- ErrConnectCancelled
			s.pendingReply = nil
		}
		s.state = StateDisconnected
		s.retryCount = 0
		m.reply <- struct{}{}

	case sendMsg:
		if s.state != StateConnected {
			m.reply <- ErrNotConnected
			return
		}
		select {
		case s.writeQ <- codec.EncodeCommand(m.cmd):
			m.reply <- nil
		default:
			m.reply <- ErrSendQueueFull
		}

	case snapshotMsg:
		m.reply <- Snapshot{
			State:       s.state,
			DeviceID:    s.target.ID,
			DisplayName: s.target.Name,
			Address:     s.target.Address,
			RetryCount:  s.retryCount,
			LastError:   s.lastErr,
		}

	case eventsMsg:
		m.reply <- s.events

	case searchMsg:
		if m.active && s.state == StateDisconnected {
			s.state = StateSearching
		} else if !m.active && s.state == StateSearching {
			s.state = StateDisconnected
		}

	case dialResult:
		if m.gen != s.gen {
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return
		}
		if m.err != nil {
			s.connectFailed(m.err)
			return
		}
		s.conn = m.conn
		s.state = StateConnected
		s.retryCount = 0
		s.lastErr = nil
		s.swapEvents()
		s.writeQ = make(chan string, s.cfg.SendBuffer)
		go s.writer(s.gen, s.conn, s.writeQ)
		go s.reader(s.gen, s.conn, s.events)
		s.streamOwned = true
		if s.pendingReply != nil {
			s.pendingReply <- nil
			s.pendingReply = nil
		}
		s.log.Info("device connected",
			zap.String("device", s.target.Name),
			zap.String("address", s.target.Address))

	case connLost:
		if m.gen != s.gen || s.state != StateConnected {
			return
		}
		s.dropConn()
		s.lastErr = m.err
		if errors.Is(m.err, ErrPermanent) {
			s.state = StateError
			s.log.Error("device link failed permanently", zap.Error(m.err))
			return
		}
		s.state = StateReconnecting
		s.retryCount++
		s.scheduleRetry()
		s.log.Warn("device link lost, reconnecting",
			zap.Int("retry", s.retryCount), zap.Error(m.err))

	case retryFire:
		if m.gen != s.gen {
			return
		}
		if s.state != StateReconnecting && s.state != StateDisconnected {
			return
		}
		s.state = StateConnecting
		s.dial()
	}
}

func (s *Session) dial() {
	gen, target := s.gen, s.target
	go func() {
		conn, err := s.transport.Dial(s.ctx, target)
		select {
		case s.inbox <- dialResult{gen: gen, conn: conn, err: err}:
		case <-s.ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (s *Session) connectFailed(err error) {
	s.lastErr = err
	if s.pendingReply != nil {
		s.pendingReply <- err
		s.pendingReply = nil
	}
	if errors.Is(err, ErrPermanent) {
		s.state = StateError
		s.log.Error("device connect failed permanently", zap.Error(err))
		return
	}
	s.state = StateDisconnected
	s.retryCount++
	s.scheduleRetry()
	s.log.Warn("device connect failed, will retry",
		zap.Int("retry", s.retryCount), zap.Error(err))
}

func (s *Session) scheduleRetry() {
	delay := s.cfg.BackoffBase
	for i := 1; i < s.retryCount; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			delay = s.cfg.BackoffCap
			break
		}
	}
	gen := s.gen
	s.retryTimer = time.AfterFunc(delay, func() {
		select {
		case s.inbox <- retryFire{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) stopRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.writeQ != nil {
		close(s.writeQ)
		s.writeQ = nil
	}
}

// swapEvents starts a fresh event stream for a new Connected incarnation.
// An owned stream is closed by its reader when the old connection dies; an
// unowned one is closed here.
func (s *Session) swapEvents() {
	if !s.streamOwned {
		close(s.events)
	}
	s.events = make(chan codec.Event, s.cfg.EventBuffer)
	s.streamOwned = false
}

func (s *Session) teardown() {
	s.stopRetry()
	s.dropConn()
	if !s.streamOwned {
		close(s.events)
		s.streamOwned = true
	}
	if s.pendingReply != nil {
		s.pendingReply <- ErrConnectCancelled
		s.pendingReply = nil
	}
	s.state = StateDisconnected
}

func (s *Session) writer(gen int, conn Conn, q <-chan string) {
	for line := range q {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
		err := conn.WriteLine(ctx, line)
		cancel()
		if err != nil {
			s.post(connLost{gen: gen, err: fmt.Errorf("write: %w", err)})
			return
		}
	}
}

func (s *Session) reader(gen int, conn Conn, out chan codec.Event) {
	for {
		line, err := conn.ReadLine(s.ctx)
		if err != nil {
			close(out)
			s.post(connLost{gen: gen, err: fmt.Errorf("read: %w", err)})
			return
		}
		ev := codec.DecodeLine(line)
		select {
		case out <- ev:
		default:
			s.log.Debug("event dropped, slow consumer", zap.String("token", ev.Token))
		}
	}
}
