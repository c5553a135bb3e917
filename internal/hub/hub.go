// Package hub is the registry of live battle rooms. Like the rooms it
// manages, it is a message-passing actor: all map access happens on one
// goroutine, so two clients creating rooms at once can never collide.
package hub

import (
	"context"
	"crypto/rand"
	"math/big"

	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/room"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

type HubMsg interface{ isHubMsg() }

// CreateRoom allocates a fresh room under a new unique code.
type CreateRoom struct {
	Reply chan CreateReply
}

type CreateReply struct {
	Code string
	Room *room.Room
	Err  error
}

// GetRoom looks a room up by code, case insensitively.
type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct {
	Code string
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	roomCfg room.Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, roomCfg room.Config, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		roomCfg: roomCfg,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Create is a convenience wrapper around the CreateRoom message.
func (h *Hub) Create(ctx context.Context) (string, *room.Room, error) {
	reply := make(chan CreateReply, 1)
	select {
	case h.inbox <- CreateRoom{Reply: reply}:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Code, r.Room, r.Err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Get returns the live room for code, or nil.
func (h *Hub) Get(ctx context.Context, code string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- GetRoom{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				code, err := h.freshCode()
				if err != nil {
					msg.Reply <- CreateReply{Err: err}
					break
				}
				r := room.NewRoom(code, h.roomCfg, h.log, h.forget)
				h.rooms[code] = r
				h.log.Info("room created", zap.String("room", code))
				msg.Reply <- CreateReply{Code: code, Room: r}

			case GetRoom:
				msg.Reply <- h.rooms[room.NormalizeCode(msg.Code)] // may be nil

			case RemoveRoom:
				delete(h.rooms, room.NormalizeCode(msg.Code))

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Send(room.Shutdown{})
	}
	clear(h.rooms)
	h.cancel()
}

// forget is handed to each room as its onClose hook. It runs on the room's
// goroutine, so it posts rather than touching the map directly.
func (h *Hub) forget(code string) {
	select {
	case h.inbox <- RemoveRoom{Code: code}:
	case <-h.ctx.Done():
	}
}

// freshCode draws 6-character codes until one is unused. Codes are short and
// human shareable; collisions among live rooms are checked here, under the
// same serialisation as creation.
func (h *Hub) freshCode() (string, error) {
	for {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := h.rooms[code]; !taken {
			return code, nil
		}
		h.log.Debug("room code collision, regenerating", zap.String("room", code))
	}
}

func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}
