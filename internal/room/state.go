// Package room is the authoritative coordinator for a multiplayer battle.
// The pure state machine lives in this file; the actor that serialises
// intents and broadcasts snapshots is in room.go. Everything here works on
// value copies, so a snapshot handed to an observer can never be mutated
// under them.
package room

import (
	"errors"
	"slices"
	"strings"
)

var ErrNotHost = errors.New("only the host can do that")
var ErrInsufficientPlayers = errors.New("need at least 2 players to start")
var ErrUnknownPlayer = errors.New("player is not in this room")
var ErrRoomFull = errors.New("room is full")
var ErrJoinClosed = errors.New("room is not open for joining")
var ErrNotInLobby = errors.New("game can only be started from the lobby")
var ErrNotInGame = errors.New("no game in progress")
var ErrInvalidScore = errors.New("score cannot be negative")

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseInGame   Phase = "in_game"
	PhaseFinished Phase = "finished"
)

type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
	IsHost  bool   `json:"isHost"`
	IsReady bool   `json:"isReady"`
}

// State is the full room snapshot. Winner holds a player id and is set only
// in PhaseFinished; an exact top-score tie finishes with Tie instead.
type State struct {
	RoomID         string   `json:"roomId"`
	Phase          Phase    `json:"phase"`
	Players        []Player `json:"players"`
	ElapsedSeconds int      `json:"elapsedSeconds"`
	MatchLength    int      `json:"matchLength"`
	Winner         string   `json:"winner,omitempty"`
	Tie            bool     `json:"tie,omitempty"`
}

// NormalizeCode upper-cases a room code; codes are case insensitive on join.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newState(roomID string, matchLength int) State {
	return State{RoomID: roomID, Phase: PhaseLobby, MatchLength: matchLength}
}

func (s State) find(playerID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == playerID })
}

func (s State) isHost(playerID string) bool {
	i := s.find(playerID)
	return i >= 0 && s.Players[i].IsHost
}

// addPlayer admits a new player while the room is in the lobby. The first
// player in becomes host.
func addPlayer(s State, p Player, maxPlayers int) (State, error) {
	if s.Phase != PhaseLobby {
		return s, ErrJoinClosed
	}
	if len(s.Players) >= maxPlayers {
		return s, ErrRoomFull
	}
	p.IsHost = len(s.Players) == 0
	p.Score = 0
	s.Players = append(slices.Clone(s.Players), p)
	return s, nil
}

// removePlayer drops a member. A departing host is not replaced; the room
// stays hostless.
func removePlayer(s State, playerID string) (State, error) {
	i := s.find(playerID)
	if i < 0 {
		return s, ErrUnknownPlayer
	}
	s.Players = slices.Delete(slices.Clone(s.Players), i, i+1)
	return s, nil
}

func start(s State, callerID string) (State, error) {
	if !s.isHost(callerID) {
		return s, ErrNotHost
	}
	if s.Phase != PhaseLobby {
		return s, ErrNotInLobby
	}
	if len(s.Players) < 2 {
		return s, ErrInsufficientPlayers
	}
	s.Phase = PhaseInGame
	s.ElapsedSeconds = 0
	return s, nil
}

// reportScore records a player's latest reported total. Reports are
// idempotent snapshots, not increments: a client resending its cumulative
// score after a reconnect converges instead of double-counting.
func reportScore(s State, playerID string, score int) (State, error) {
	if s.Phase != PhaseInGame {
		return s, ErrNotInGame
	}
	i := s.find(playerID)
	if i < 0 {
		return s, ErrUnknownPlayer
	}
	if score < 0 {
		return s, ErrInvalidScore
	}
	s.Players = slices.Clone(s.Players)
	s.Players[i].Score = score
	return s, nil
}

// tick advances the match clock one second. The second return is true when
// the match length is reached and the room just finished.
func tick(s State) (State, bool) {
	if s.Phase != PhaseInGame {
		return s, false
	}
	s.ElapsedSeconds++
	if s.ElapsedSeconds < s.MatchLength {
		return s, false
	}
	s.Phase = PhaseFinished
	s.Winner, s.Tie = computeWinner(s.Players)
	return s, true
}

func reset(s State, callerID string) (State, error) {
	if !s.isHost(callerID) {
		return s, ErrNotHost
	}
	s.Players = slices.Clone(s.Players)
	for i := range s.Players {
		s.Players[i].Score = 0
	}
	s.Phase = PhaseLobby
	s.ElapsedSeconds = 0
	s.Winner = ""
	s.Tie = false
	return s, nil
}

// computeWinner picks the player with the strictly highest score. Equal top
// scores are an explicit tie, never an arbitrary pick.
func computeWinner(players []Player) (winner string, tie bool) {
	best := -1
	for _, p := range players {
		switch {
		case p.Score > best:
			best, winner, tie = p.Score, p.ID, false
		case p.Score == best:
			winner, tie = "", true
		}
	}
	return winner, tie
}
