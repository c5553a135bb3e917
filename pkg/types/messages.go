package types

// Client -> Server (JSON over /ws, flat envelope with "type")
// create_room:
//   playerName: string
//
// join_room:
//   roomId: string // 6-char code, case insensitive
//   playerName: string
//
// start_game:
//   roomId: string
//
// score_update:
//   roomId: string
//   playerId: string // must be the sender's own id
//   score: number    // authoritative running total, not a delta
//
// reset_game:
//   roomId: string
//
// leave_room:
//   roomId: string

// Server -> Client
// room_created:
//   roomId: string
//   playerId: string // the creator's id, IsHost is true in players
//   players: Player[]
//
// room_joined:
//   roomId: string
//   playerId: string
//   players: Player[]
//
// player_joined:
//   players: Player[] // full roster, not a delta
//
// player_left:
//   players: Player[]
//
// game_started: {}
//
// score_update:
//   playerId: string
//   score: number
//
// game_ended:
//   winner: string // player id, empty on a tie
//   tie: boolean
//   players: Player[] // final scores
//
// game_reset:
//   players: Player[] // scores zeroed, back in lobby
//
// error:
//   message: string // sent only to the offending client
//
// Player:
//   id: string
//   name: string
//   score: number
//   isHost: boolean
//   isReady: boolean
