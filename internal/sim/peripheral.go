// Package sim is a simulated scoring peripheral. It implements the same
// Transport seam the real hardware link does, so the device session (and its
// tests) cannot tell it apart from a physical target. The firmware behaviour
// mirrors the ESP32: token commands in, token frames out, and a random score
// generator while a solo game is running.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/scorefactor/scorefactor-backend/internal/codec"
	"github.com/scorefactor/scorefactor-backend/internal/device"
)

var sensors = []string{"TARGET_1", "TARGET_2", "TARGET_3", "TARGET_4"}

type Config struct {
	// FailureRate is the probability [0,1) that a dial fails, the way a
	// flaky physical link does. Zero keeps tests deterministic.
	FailureRate float64
	// Score cadence while a game is active.
	ScoreMinDelay time.Duration // default 2s
	ScoreMaxDelay time.Duration // default 4s
	MaxDelta      int           // points per hit, 1..MaxDelta, default 10
	Seed          int64         // 0 seeds from the clock
}

func (c Config) withDefaults() Config {
	if c.ScoreMinDelay <= 0 {
		c.ScoreMinDelay = 2 * time.Second
	}
	if c.ScoreMaxDelay < c.ScoreMinDelay {
		c.ScoreMaxDelay = c.ScoreMinDelay + 2*time.Second
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = 10
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Peripheral is a dialable simulated device. It satisfies device.Transport
// and device.Discoverer.
type Peripheral struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config) *Peripheral {
	cfg = cfg.withDefaults()
	return &Peripheral{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Discover lists the simulated devices that are always in range.
func (p *Peripheral) Discover(ctx context.Context) ([]device.DeviceInfo, error) {
	return []device.DeviceInfo{
		{ID: "sf_001", Name: "ScoreFactor-ESP32", Address: "00:11:22:33:44:55"},
		{ID: "sf_002", Name: "ESP32-GameDevice", Address: "00:11:22:33:44:66"},
	}, nil
}

func (p *Peripheral) Dial(ctx context.Context, target device.DeviceInfo) (device.Conn, error) {
	if p.chance(p.cfg.FailureRate) {
		return nil, errors.New("connection failed - device not responding")
	}
	c := &conn{
		p:      p,
		out:    make(chan string, 32),
		closed: make(chan struct{}),
	}
	c.emit("DEVICE_READY")
	return c, nil
}

func (p *Peripheral) chance(rate float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < rate
}

func (p *Peripheral) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

func (p *Peripheral) scoreDelay() time.Duration {
	spread := p.cfg.ScoreMaxDelay - p.cfg.ScoreMinDelay
	if spread <= 0 {
		return p.cfg.ScoreMinDelay
	}
	return p.cfg.ScoreMinDelay + time.Duration(p.intn(int(spread)))
}

// conn is one dialled instance of the simulated device.
type conn struct {
	p      *Peripheral
	out    chan string
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	score int
	stop  chan struct{} // non-nil while a game runs
}

func (c *conn) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-c.out:
		return line, nil
	case <-c.closed:
		return "", errors.New("device disconnected")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *conn) WriteLine(ctx context.Context, line string) error {
	select {
	case <-c.closed:
		return errors.New("device disconnected")
	default:
	}
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case codec.CmdStartGame, codec.CmdSoloMode:
		c.startGame()
	case codec.CmdStopGame:
		c.stopGame("GAME_STOPPED")
	case codec.CmdResetGame:
		c.resetGame()
	case codec.CmdBattleMode:
		c.emit("BATTLE_MODE_READY")
	case codec.CmdGetStatus:
		c.mu.Lock()
		score := c.score
		c.mu.Unlock()
		c.emit(fmt.Sprintf("STATUS_SCORE_%d_CONNECTED", score))
	default:
		c.emit("COMMAND_RECEIVED: " + strings.TrimSpace(line))
	}
	return nil
}

func (c *conn) Close() error {
	c.once.Do(func() {
		c.stopGame("")
		close(c.closed)
	})
	return nil
}

// emit queues a frame for the client. A full queue drops the frame; the
// physical transport gives no delivery guarantee either.
func (c *conn) emit(line string) {
	select {
	case c.out <- line + "\n":
	default:
	}
}

func (c *conn) startGame() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		c.emit("GAME_STARTED")
		return
	}
	c.score = 0
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	c.emit("GAME_STARTED")
	go c.scoreLoop(stop)
}

func (c *conn) stopGame(ack string) {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()
	if ack != "" {
		c.emit(ack)
	}
}

func (c *conn) resetGame() {
	c.stopGame("")
	c.mu.Lock()
	c.score = 0
	c.mu.Unlock()
	c.emit("GAME_RESET")
}

// scoreLoop plays the part of the target sensors: every few seconds a random
// sensor registers a hit worth 1..MaxDelta points.
func (c *conn) scoreLoop(stop <-chan struct{}) {
	for {
		timer := time.NewTimer(c.p.scoreDelay())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-c.closed:
			timer.Stop()
			return
		case <-timer.C:
		}

		delta := 1 + c.p.intn(c.p.cfg.MaxDelta)
		sensor := sensors[c.p.intn(len(sensors))]

		c.mu.Lock()
		c.score += delta
		total := c.score
		c.mu.Unlock()

		c.emit(fmt.Sprintf("HIT_%s_SCORE_%d", sensor, total))
		c.emit(fmt.Sprintf("SCORE_UPDATE: %d", delta))
	}
}
