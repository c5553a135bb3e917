// Package protocol defines the JSON envelopes spoken between a client and
// the battle room coordinator. Every message is a flat object with a "type"
// discriminator; both directions decode into a closed set of variants with
// an explicit unknown arm, so a newer peer can't crash an older one.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/scorefactor/scorefactor-backend/internal/room"
)

const (
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeStartGame   = "start_game"
	TypeScoreUpdate = "score_update"
	TypeLeaveRoom   = "leave_room"
	TypeResetGame   = "reset_game"

	TypeRoomCreated  = "room_created"
	TypeRoomJoined   = "room_joined"
	TypePlayerJoined = "player_joined"
	TypeGameStarted  = "game_started"
	TypeGameEnded    = "game_ended"
	TypePlayerLeft   = "player_left"
	TypeGameReset    = "game_reset"
	TypeError        = "error"
)

// Intent is a client-originated request to change room state.
type Intent interface{ isIntent() }

type CreateRoom struct {
	PlayerName string `json:"playerName"`
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type StartGame struct {
	RoomID string `json:"roomId"`
}

// ScoreReport carries a player's cumulative score, not an increment.
type ScoreReport struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type ResetGame struct {
	RoomID string `json:"roomId"`
}

// UnknownIntent preserves the discriminator of a message this build doesn't
// understand; the server answers it with an error instead of dropping the
// connection.
type UnknownIntent struct {
	Type string
}

func (CreateRoom) isIntent()    {}
func (JoinRoom) isIntent()      {}
func (StartGame) isIntent()     {}
func (ScoreReport) isIntent()   {}
func (LeaveRoom) isIntent()     {}
func (ResetGame) isIntent()     {}
func (UnknownIntent) isIntent() {}

// DecodeIntent parses one inbound client envelope.
func DecodeIntent(data []byte) (Intent, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch probe.Type {
	case TypeCreateRoom:
		return decodeAs[CreateRoom](data)
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data)
	case TypeStartGame:
		return decodeAs[StartGame](data)
	case TypeScoreUpdate:
		return decodeAs[ScoreReport](data)
	case TypeLeaveRoom:
		return decodeAs[LeaveRoom](data)
	case TypeResetGame:
		return decodeAs[ResetGame](data)
	default:
		return UnknownIntent{Type: probe.Type}, nil
	}
}

func decodeAs[T Intent](data []byte) (Intent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// EncodeIntent frames an outbound client envelope.
func EncodeIntent(in Intent) ([]byte, error) {
	switch v := in.(type) {
	case CreateRoom:
		return tag(TypeCreateRoom, v)
	case JoinRoom:
		return tag(TypeJoinRoom, v)
	case StartGame:
		return tag(TypeStartGame, v)
	case ScoreReport:
		return tag(TypeScoreUpdate, v)
	case LeaveRoom:
		return tag(TypeLeaveRoom, v)
	case ResetGame:
		return tag(TypeResetGame, v)
	default:
		return nil, fmt.Errorf("cannot encode intent %T", in)
	}
}

// ServerMessage is an authoritative update or reply from the coordinator.
type ServerMessage interface{ isServerMessage() }

// RoomCreated acknowledges create_room to its sender. PlayerID tells the
// client who it is in the roster.
type RoomCreated struct {
	RoomID   string        `json:"roomId"`
	PlayerID string        `json:"playerId"`
	Players  []room.Player `json:"players"`
}

type RoomJoined struct {
	RoomID   string        `json:"roomId"`
	PlayerID string        `json:"playerId"`
	Players  []room.Player `json:"players"`
}

type PlayerJoined struct {
	Players []room.Player `json:"players"`
}

type GameStarted struct{}

type ScoreUpdate struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

// GameEnded reports the final result. Winner is a player id, empty when the
// top scores tied.
type GameEnded struct {
	Winner  string        `json:"winner"`
	Tie     bool          `json:"tie"`
	Players []room.Player `json:"players"`
}

type PlayerLeft struct {
	Players []room.Player `json:"players"`
}

type GameReset struct {
	Players []room.Player `json:"players"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type UnknownServer struct {
	Type string
}

func (RoomCreated) isServerMessage()   {}
func (RoomJoined) isServerMessage()    {}
func (PlayerJoined) isServerMessage()  {}
func (GameStarted) isServerMessage()   {}
func (ScoreUpdate) isServerMessage()   {}
func (GameEnded) isServerMessage()     {}
func (PlayerLeft) isServerMessage()    {}
func (GameReset) isServerMessage()     {}
func (ErrorMessage) isServerMessage()  {}
func (UnknownServer) isServerMessage() {}

func EncodeServer(m ServerMessage) ([]byte, error) {
	switch v := m.(type) {
	case RoomCreated:
		return tag(TypeRoomCreated, v)
	case RoomJoined:
		return tag(TypeRoomJoined, v)
	case PlayerJoined:
		return tag(TypePlayerJoined, v)
	case GameStarted:
		return tag(TypeGameStarted, v)
	case ScoreUpdate:
		return tag(TypeScoreUpdate, v)
	case GameEnded:
		return tag(TypeGameEnded, v)
	case PlayerLeft:
		return tag(TypePlayerLeft, v)
	case GameReset:
		return tag(TypeGameReset, v)
	case ErrorMessage:
		return tag(TypeError, v)
	default:
		return nil, fmt.Errorf("cannot encode server message %T", m)
	}
}

// DecodeServer parses one server envelope on the client side.
func DecodeServer(data []byte) (ServerMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch probe.Type {
	case TypeRoomCreated:
		return decodeServerAs[RoomCreated](data)
	case TypeRoomJoined:
		return decodeServerAs[RoomJoined](data)
	case TypePlayerJoined:
		return decodeServerAs[PlayerJoined](data)
	case TypeGameStarted:
		return GameStarted{}, nil
	case TypeScoreUpdate:
		return decodeServerAs[ScoreUpdate](data)
	case TypeGameEnded:
		return decodeServerAs[GameEnded](data)
	case TypePlayerLeft:
		return decodeServerAs[PlayerLeft](data)
	case TypeGameReset:
		return decodeServerAs[GameReset](data)
	case TypeError:
		return decodeServerAs[ErrorMessage](data)
	default:
		return UnknownServer{Type: probe.Type}, nil
	}
}

func decodeServerAs[T ServerMessage](data []byte) (ServerMessage, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// FromRoomUpdate maps a room actor update onto its wire message.
func FromRoomUpdate(u room.Update) ServerMessage {
	switch u.Kind {
	case room.UpdateJoined:
		return PlayerJoined{Players: u.State.Players}
	case room.UpdateLeft:
		return PlayerLeft{Players: u.State.Players}
	case room.UpdateStarted:
		return GameStarted{}
	case room.UpdateScore:
		return ScoreUpdate{PlayerID: u.PlayerID, Score: u.Score}
	case room.UpdateEnded:
		return GameEnded{Winner: u.Winner, Tie: u.Tie, Players: u.State.Players}
	case room.UpdateReset:
		return GameReset{Players: u.State.Players}
	case room.UpdateError:
		return ErrorMessage{Message: u.Err}
	default:
		return nil
	}
}

// tag splices the type discriminator into the payload's own object so the
// wire format stays flat: {"type":"join_room","roomId":...}.
func tag(msgType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	head := []byte(`{"type":"` + msgType + `"`)
	if len(body) <= 2 { // empty object
		return append(head, '}'), nil
	}
	head = append(head, ',')
	return append(head, body[1:]...), nil
}
