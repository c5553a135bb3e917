// Package ws bridges websocket connections onto room actors: inbound JSON
// envelopes become room intents, room updates become outbound envelopes.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/hub"
	"github.com/scorefactor/scorefactor-backend/internal/protocol"
	"github.com/scorefactor/scorefactor-backend/internal/room"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx := r.Context()

		// The first envelope decides which room this connection belongs to.
		first, err := readIntent(ctx, conn)
		if err != nil {
			return
		}

		var (
			rm      *room.Room
			code    string
			name    string
			created bool
		)
		switch v := first.(type) {
		case protocol.CreateRoom:
			code, rm, err = h.Create(ctx)
			if err != nil {
				writeError(ctx, conn, "failed to create room")
				return
			}
			name, created = v.PlayerName, true
		case protocol.JoinRoom:
			rm = h.Get(ctx, v.RoomID)
			if rm == nil {
				writeError(ctx, conn, "room not found")
				return
			}
			code, name = room.NormalizeCode(v.RoomID), v.PlayerName
		default:
			writeError(ctx, conn, "expected create_room or join_room")
			return
		}

		out := make(chan room.Update, 16)
		reply := make(chan room.JoinReply, 1)
		if !rm.Send(room.Join{Name: name, Outbox: out, Reply: reply}) {
			writeError(ctx, conn, "room not found")
			return
		}
		var jr room.JoinReply
		select {
		case jr = <-reply:
		case <-rm.Done():
			writeError(ctx, conn, "room not found")
			return
		case <-ctx.Done():
			return
		}
		if jr.Err != nil {
			writeError(ctx, conn, jr.Err.Error())
			return
		}
		self := jr.Player
		defer rm.Send(room.Leave{PlayerID: self.ID})

		var ack protocol.ServerMessage
		if created {
			ack = protocol.RoomCreated{RoomID: code, PlayerID: self.ID, Players: jr.State.Players}
		} else {
			ack = protocol.RoomJoined{RoomID: code, PlayerID: self.ID, Players: jr.State.Players}
		}
		if err := write(ctx, conn, ack); err != nil {
			return
		}

		log.Info("client joined room",
			zap.String("room", code), zap.String("player", self.Name))

		// Writer goroutine: drains the member outbox until the room closes
		// it (leave, drop or shutdown).
		writeCtx, writeCancel := context.WithCancel(ctx)
		defer writeCancel()
		go func() {
			for u := range out {
				msg := protocol.FromRoomUpdate(u)
				if msg == nil {
					continue
				}
				payload, err := protocol.EncodeServer(msg)
				if err != nil {
					continue
				}
				wctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(wctx, websocket.MessageText, payload)
				cancel()
			}
			// The outbox only closes when the room is done with this member
			// (idle timeout, shutdown, slow drop). Tell the client and hang
			// up so it never talks into the void. On a self-initiated leave
			// writeCtx is already cancelled and both calls are no-ops.
			writeError(writeCtx, conn, "room closed")
			_ = conn.Close(websocket.StatusGoingAway, "room closed")
		}()

		// post rejects intents to a dead room instead of dropping them.
		post := func(m room.Msg) bool {
			if !rm.Send(m) {
				writeError(ctx, conn, "room closed")
				return false
			}
			return true
		}

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (room.Leave in defer):
				return
			}

			intent, err := protocol.DecodeIntent(data)
			if err != nil {
				writeError(ctx, conn, "bad json")
				continue
			}

			switch v := intent.(type) {
			case protocol.StartGame:
				if !sameRoom(ctx, conn, code, v.RoomID) {
					continue
				}
				if !post(room.Start{PlayerID: self.ID}) {
					return
				}
			case protocol.ScoreReport:
				if !sameRoom(ctx, conn, code, v.RoomID) {
					continue
				}
				if v.PlayerID != "" && v.PlayerID != self.ID {
					writeError(ctx, conn, "cannot report another player's score")
					continue
				}
				if !post(room.Score{PlayerID: self.ID, Value: v.Score}) {
					return
				}
			case protocol.ResetGame:
				if !sameRoom(ctx, conn, code, v.RoomID) {
					continue
				}
				if !post(room.Reset{PlayerID: self.ID}) {
					return
				}
			case protocol.LeaveRoom:
				return // the deferred Leave does the rest
			case protocol.CreateRoom, protocol.JoinRoom:
				writeError(ctx, conn, "already in a room")
			case protocol.UnknownIntent:
				writeError(ctx, conn, "unknown type: "+v.Type)
			}
		}
	}
}

func readIntent(ctx context.Context, conn *websocket.Conn) (protocol.Intent, error) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, data, err := conn.Read(rctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeIntent(data)
}

func sameRoom(ctx context.Context, conn *websocket.Conn, bound, claimed string) bool {
	if claimed == "" || room.NormalizeCode(claimed) == bound {
		return true
	}
	writeError(ctx, conn, "room not found")
	return false
}

func write(ctx context.Context, conn *websocket.Conn, msg protocol.ServerMessage) error {
	payload, err := protocol.EncodeServer(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func writeError(ctx context.Context, conn *websocket.Conn, message string) {
	_ = write(ctx, conn, protocol.ErrorMessage{Message: message})
}
