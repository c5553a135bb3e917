// Package client is a websocket client for the room relay. It mirrors the
// server's broadcasts into a local view; it never computes game outcomes on
// its own, the server is authoritative.
package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/protocol"
	"github.com/scorefactor/scorefactor-backend/internal/room"
)

var (
	ErrClosed     = errors.New("client: connection closed")
	ErrNotInRoom  = errors.New("client: not in a room")
	ErrAlreadyIn  = errors.New("client: already in a room")
	ErrAckPending = errors.New("client: another request is in flight")
	ErrServer     = errors.New("client: server rejected request")
)

const writeTimeout = 3 * time.Second

// RoomView is the client-side mirror of room state, rebuilt from server
// broadcasts.
type RoomView struct {
	RoomID    string
	SelfID    string
	Players   []room.Player
	Started   bool
	Finished  bool
	Winner    string
	Tie       bool
	LastError string
}

// Standing is one row of the scoreboard, ordered best first.
type Standing struct {
	PlayerID string
	Name     string
	Score    int
}

type Client struct {
	conn   *websocket.Conn
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	view    RoomView
	pending chan protocol.ServerMessage
	readErr error

	updates chan protocol.ServerMessage
}

// Dial connects to a relay's /ws endpoint and starts the read loop.
func Dial(ctx context.Context, url string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		log:     log,
		cancel:  cancel,
		done:    make(chan struct{}),
		updates: make(chan protocol.ServerMessage, 32),
	}
	go c.readLoop(loopCtx)
	return c, nil
}

// CreateRoom asks the relay for a fresh room and joins it as host. Blocks
// until the server acknowledges or the context expires.
func (c *Client) CreateRoom(ctx context.Context, playerName string) (RoomView, error) {
	return c.enter(ctx, protocol.CreateRoom{PlayerName: playerName})
}

// JoinRoom joins an existing room by code.
func (c *Client) JoinRoom(ctx context.Context, code, playerName string) (RoomView, error) {
	return c.enter(ctx, protocol.JoinRoom{RoomID: code, PlayerName: playerName})
}

func (c *Client) enter(ctx context.Context, intent protocol.Intent) (RoomView, error) {
	c.mu.Lock()
	if c.view.RoomID != "" {
		c.mu.Unlock()
		return RoomView{}, ErrAlreadyIn
	}
	if c.pending != nil {
		c.mu.Unlock()
		return RoomView{}, ErrAckPending
	}
	ack := make(chan protocol.ServerMessage, 1)
	c.pending = ack
	c.mu.Unlock()

	clearPending := func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}

	if err := c.write(ctx, intent); err != nil {
		clearPending()
		return RoomView{}, err
	}

	select {
	case msg := <-ack:
		clearPending()
		if e, ok := msg.(protocol.ErrorMessage); ok {
			return RoomView{}, errors.Join(ErrServer, errors.New(e.Message))
		}
		return c.Snapshot(), nil
	case <-c.done:
		clearPending()
		return RoomView{}, ErrClosed
	case <-ctx.Done():
		clearPending()
		return RoomView{}, ctx.Err()
	}
}

// Start asks the server to begin the match. Only the host will succeed;
// anyone else gets an error envelope, surfaced via Updates and LastError.
func (c *Client) Start(ctx context.Context) error {
	return c.sendInRoom(ctx, func(roomID string) protocol.Intent {
		return protocol.StartGame{RoomID: roomID}
	})
}

// ReportScore pushes this player's current total. The server treats it as
// authoritative, so re-sending the same total is harmless.
func (c *Client) ReportScore(ctx context.Context, score int) error {
	c.mu.Lock()
	selfID := c.view.SelfID
	c.mu.Unlock()
	return c.sendInRoom(ctx, func(roomID string) protocol.Intent {
		return protocol.ScoreReport{RoomID: roomID, PlayerID: selfID, Score: score}
	})
}

// Reset asks the host's server-side room to return to the lobby.
func (c *Client) Reset(ctx context.Context) error {
	return c.sendInRoom(ctx, func(roomID string) protocol.Intent {
		return protocol.ResetGame{RoomID: roomID}
	})
}

// Leave exits the room. The relay binds one room per connection, so the
// server hangs up afterwards and Done fires soon after.
func (c *Client) Leave(ctx context.Context) error {
	err := c.sendInRoom(ctx, func(roomID string) protocol.Intent {
		return protocol.LeaveRoom{RoomID: roomID}
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.view = RoomView{}
	c.mu.Unlock()
	return nil
}

func (c *Client) sendInRoom(ctx context.Context, build func(roomID string) protocol.Intent) error {
	c.mu.Lock()
	roomID := c.view.RoomID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNotInRoom
	}
	return c.write(ctx, build(roomID))
}

func (c *Client) write(ctx context.Context, intent protocol.Intent) error {
	payload, err := protocol.EncodeIntent(intent)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return errors.Join(ErrClosed, err)
	}
	return nil
}

// Snapshot returns a copy of the mirrored room state.
func (c *Client) Snapshot() RoomView {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.view
	v.Players = append([]room.Player(nil), c.view.Players...)
	return v
}

// Standings computes the scoreboard fresh from the current view, highest
// score first, name as tie-break so the order is stable.
func (c *Client) Standings() []Standing {
	c.mu.Lock()
	players := append([]room.Player(nil), c.view.Players...)
	c.mu.Unlock()

	rows := make([]Standing, 0, len(players))
	for _, p := range players {
		rows = append(rows, Standing{PlayerID: p.ID, Name: p.Name, Score: p.Score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// Updates exposes every decoded server message after it has been applied to
// the view. Slow consumers lose messages rather than stalling the read loop.
func (c *Client) Updates() <-chan protocol.ServerMessage { return c.updates }

// Done closes once the read loop has exited for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped, nil while it is still running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.done
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			c.log.Warn("bad server frame", zap.Error(err))
			continue
		}
		c.apply(msg)

		select {
		case c.updates <- msg:
		default:
			c.log.Warn("update dropped, consumer too slow")
		}
	}
}

// apply folds a server message into the mirrored view. Rosters and scores
// are taken verbatim from the payload.
func (c *Client) apply(msg protocol.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.RoomCreated:
		c.view = RoomView{RoomID: m.RoomID, SelfID: m.PlayerID, Players: m.Players}
		c.deliver(msg)
	case protocol.RoomJoined:
		c.view = RoomView{RoomID: m.RoomID, SelfID: m.PlayerID, Players: m.Players}
		c.deliver(msg)
	case protocol.PlayerJoined:
		c.view.Players = m.Players
	case protocol.PlayerLeft:
		c.view.Players = m.Players
	case protocol.GameStarted:
		c.view.Started = true
		c.view.Finished = false
		c.view.Winner = ""
		c.view.Tie = false
	case protocol.ScoreUpdate:
		for i := range c.view.Players {
			if c.view.Players[i].ID == m.PlayerID {
				c.view.Players[i].Score = m.Score
				break
			}
		}
	case protocol.GameEnded:
		c.view.Players = m.Players
		c.view.Started = false
		c.view.Finished = true
		c.view.Winner = m.Winner
		c.view.Tie = m.Tie
	case protocol.GameReset:
		c.view.Players = m.Players
		c.view.Started = false
		c.view.Finished = false
		c.view.Winner = ""
		c.view.Tie = false
	case protocol.ErrorMessage:
		c.view.LastError = m.Message
		c.deliver(msg)
	}
}

// deliver routes acks and errors to a waiting CreateRoom/JoinRoom call.
// Caller holds c.mu.
func (c *Client) deliver(msg protocol.ServerMessage) {
	if c.pending == nil {
		return
	}
	select {
	case c.pending <- msg:
	default:
	}
}
