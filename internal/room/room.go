package room

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	MatchLength  int           // seconds of play before the room finishes
	MaxPlayers   int
	TickInterval time.Duration // 1s in production, shortened in tests
	IdleTimeout  time.Duration // a room with no intent traffic this long closes
}

func (c Config) withDefaults() Config {
	if c.MatchLength <= 0 {
		c.MatchLength = 60
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 8
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	return c
}

// UpdateKind discriminates the authoritative updates a room pushes to its
// members.
type UpdateKind string

const (
	UpdateJoined  UpdateKind = "player_joined"
	UpdateLeft    UpdateKind = "player_left"
	UpdateStarted UpdateKind = "game_started"
	UpdateScore   UpdateKind = "score_update"
	UpdateEnded   UpdateKind = "game_ended"
	UpdateReset   UpdateKind = "game_reset"
	UpdateError   UpdateKind = "error"
)

// Update is one authoritative room update. State is the snapshot after the
// change; errors carry no snapshot and go only to the offending member.
type Update struct {
	Kind     UpdateKind
	State    State
	PlayerID string // subject player for joins, leaves and score updates
	Score    int
	Winner   string
	Tie      bool
	Err      string
}

type Msg interface{ isRoomMsg() }

// Join admits a player. Outbox is where this member wants its updates; a
// member that stops draining it is dropped.
type Join struct {
	Name   string
	Outbox chan Update
	Reply  chan JoinReply
}

type JoinReply struct {
	Player Player
	State  State
	Err    error
}

type Leave struct{ PlayerID string }

type Start struct{ PlayerID string }

type Score struct {
	PlayerID string
	Value    int
}

type Reset struct{ PlayerID string }

// GetView reflects internal state without data races; tests and the debug
// endpoint use it.
type GetView struct{ Reply chan View }

type View struct {
	State      State
	NumMembers int
}

type Shutdown struct{}

func (Join) isRoomMsg()     {}
func (Leave) isRoomMsg()    {}
func (Start) isRoomMsg()    {}
func (Score) isRoomMsg()    {}
func (Reset) isRoomMsg()    {}
func (GetView) isRoomMsg()  {}
func (Shutdown) isRoomMsg() {}

// Room serialises every intent for one battle room through a single loop
// goroutine. Multiple rooms run fully in parallel with nothing shared.
type Room struct {
	inbox   chan Msg
	done    chan struct{}
	cfg     Config
	log     *zap.Logger
	onClose func(code string)

	// owned by the loop
	state   State
	members map[string]chan Update
	ticker  *time.Ticker
	idle    *time.Timer
}

// NewRoom starts the actor for one room. onClose is invoked (from the room
// goroutine) when the room dies so the registry can forget it.
func NewRoom(code string, cfg Config, log *zap.Logger, onClose func(code string)) *Room {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if onClose == nil {
		onClose = func(string) {}
	}
	r := &Room{
		inbox:   make(chan Msg, 64),
		done:    make(chan struct{}),
		cfg:     cfg,
		log:     log.With(zap.String("room", code)),
		onClose: onClose,
		state:   newState(code, cfg.MatchLength),
		members: make(map[string]chan Update),
		idle:    time.NewTimer(cfg.IdleTimeout),
	}
	go r.loop()
	return r
}

// Inbox is where the ws layer (and tests) send intents.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Send delivers an intent unless the room is already gone.
func (r *Room) Send(m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	}
}

// Done is closed when the room has shut down.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	for {
		var tickC <-chan time.Time
		if r.ticker != nil {
			tickC = r.ticker.C
		}
		select {
		case <-r.idle.C:
			r.log.Info("room idle, closing")
			r.shutdown()
			return
		case <-tickC:
			r.handleTick()
		case m := <-r.inbox:
			r.touchIdle()
			if closed := r.handle(m); closed {
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handle(m Msg) (closed bool) {
	switch m := m.(type) {
	case Join:
		next, err := addPlayer(r.state, Player{ID: uuid.NewString(), Name: m.Name}, r.cfg.MaxPlayers)
		if err != nil {
			m.Reply <- JoinReply{Err: err}
			return false
		}
		r.state = next
		joined := r.state.Players[len(r.state.Players)-1]
		r.members[joined.ID] = m.Outbox
		m.Reply <- JoinReply{Player: joined, State: r.state}
		r.broadcast(Update{Kind: UpdateJoined, State: r.state, PlayerID: joined.ID})
		r.log.Info("player joined", zap.String("player", joined.Name), zap.Bool("host", joined.IsHost))

	case Leave:
		next, err := removePlayer(r.state, m.PlayerID)
		if err != nil {
			return false // leave never errors back; the member is already gone
		}
		r.state = next
		if out, ok := r.members[m.PlayerID]; ok {
			close(out)
			delete(r.members, m.PlayerID)
		}
		if len(r.state.Players) == 0 {
			r.log.Info("room empty, closing")
			return true
		}
		r.broadcast(Update{Kind: UpdateLeft, State: r.state, PlayerID: m.PlayerID})

	case Start:
		next, err := start(r.state, m.PlayerID)
		if err != nil {
			r.sendError(m.PlayerID, err)
			return false
		}
		r.state = next
		r.ticker = time.NewTicker(r.cfg.TickInterval)
		r.broadcast(Update{Kind: UpdateStarted, State: r.state})
		r.log.Info("match started", zap.Int("players", len(r.state.Players)))

	case Score:
		next, err := reportScore(r.state, m.PlayerID, m.Value)
		if err != nil {
			r.sendError(m.PlayerID, err)
			return false
		}
		r.state = next
		r.broadcast(Update{Kind: UpdateScore, State: r.state, PlayerID: m.PlayerID, Score: m.Value})

	case Reset:
		next, err := reset(r.state, m.PlayerID)
		if err != nil {
			r.sendError(m.PlayerID, err)
			return false
		}
		r.state = next
		r.stopTicker()
		r.broadcast(Update{Kind: UpdateReset, State: r.state})
		r.log.Info("room reset to lobby")

	case GetView:
		m.Reply <- View{State: r.state, NumMembers: len(r.members)}

	case Shutdown:
		return true
	}
	return false
}

func (r *Room) handleTick() {
	next, finished := tick(r.state)
	r.state = next
	if !finished {
		return
	}
	r.stopTicker()
	r.broadcast(Update{
		Kind:   UpdateEnded,
		State:  r.state,
		Winner: r.state.Winner,
		Tie:    r.state.Tie,
	})
	r.log.Info("match ended",
		zap.String("winner", r.state.Winner), zap.Bool("tie", r.state.Tie))
}

// broadcast is fire and forget per member: a member that can't keep up is
// dropped so it never blocks the rest of the room.
func (r *Room) broadcast(u Update) {
	r.evict(r.fanOut(u)...)
}

// fanOut delivers one update to every member and returns the ids of members
// whose outbox was full; their channels are already closed.
func (r *Room) fanOut(u Update) (dropped []string) {
	for id, out := range r.members {
		select {
		case out <- u:
		default:
			close(out)
			delete(r.members, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// evict takes dropped members out of the roster too, so they don't linger
// as ghosts in later broadcasts. Announcing a departure can drop further
// slow members, hence the queue.
func (r *Room) evict(ids ...string) {
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		next, err := removePlayer(r.state, id)
		if err != nil {
			continue
		}
		r.state = next
		r.log.Warn("dropped slow member", zap.String("player", id))
		if len(r.state.Players) == 0 {
			continue
		}
		ids = append(ids, r.fanOut(Update{Kind: UpdateLeft, State: r.state, PlayerID: id})...)
	}
}

// sendError reports a rejected intent to the offending member only.
func (r *Room) sendError(playerID string, err error) {
	out, ok := r.members[playerID]
	if !ok {
		return
	}
	select {
	case out <- Update{Kind: UpdateError, Err: err.Error()}:
	default:
		close(out)
		delete(r.members, playerID)
		r.evict(playerID)
	}
}

func (r *Room) touchIdle() {
	if !r.idle.Stop() {
		select {
		case <-r.idle.C:
		default:
		}
	}
	r.idle.Reset(r.cfg.IdleTimeout)
}

func (r *Room) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Room) shutdown() {
	r.stopTicker()
	r.idle.Stop()
	for id, out := range r.members {
		close(out)
		delete(r.members, id)
	}
	r.onClose(r.state.RoomID)
	close(r.done)
}
