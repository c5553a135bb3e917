package room

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testCfg() Config {
	return Config{
		MatchLength:  2,
		MaxPlayers:   4,
		TickInterval: 10 * time.Millisecond,
		IdleTimeout:  time.Minute,
	}
}

// helper: receive one update with a timeout so tests never hang
func recvUpdate(t *testing.T, ch <-chan Update, within time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatalf("member outbox closed unexpectedly")
		}
		return u
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Update{} // unreachable
	}
}

func recvKind(t *testing.T, ch <-chan Update, kind UpdateKind, within time.Duration) Update {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %q update", kind)
		}
		if u := recvUpdate(t, ch, remaining); u.Kind == kind {
			return u
		}
	}
}

func recvView(t *testing.T, r *Room, within time.Duration) View {
	t.Helper()
	reply := make(chan View, 1)
	r.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func joinPlayer(t *testing.T, r *Room, name string, buf int) (Player, chan Update) {
	t.Helper()
	out := make(chan Update, buf)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{Name: name, Outbox: out, Reply: reply}
	select {
	case jr := <-reply:
		if jr.Err != nil {
			t.Fatalf("join %s: %v", name, jr.Err)
		}
		return jr.Player, out
	case <-time.After(time.Second):
		t.Fatalf("timed out joining %s", name)
		return Player{}, nil // unreachable
	}
}

func TestRoom_JoinRosterAndHost(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 8)
	if !alice.IsHost {
		t.Fatal("first player in must be host")
	}
	_ = recvKind(t, aOut, UpdateJoined, time.Second) // alice's own join

	bob, bOut := joinPlayer(t, r, "bob", 8)
	if bob.IsHost {
		t.Fatal("second player must not be host")
	}

	u := recvKind(t, aOut, UpdateJoined, time.Second)
	if len(u.State.Players) != 2 || u.PlayerID != bob.ID {
		t.Fatalf("roster broadcast wrong: %+v", u)
	}
	u = recvKind(t, bOut, UpdateJoined, time.Second)
	if len(u.State.Players) != 2 {
		t.Fatalf("joiner missed roster: %+v", u)
	}
}

func TestRoom_FullMatchProducesWinner(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 16)
	bob, bOut := joinPlayer(t, r, "bob", 16)

	r.Inbox() <- Start{PlayerID: alice.ID}
	started := recvKind(t, bOut, UpdateStarted, time.Second)
	if started.State.Phase != PhaseInGame {
		t.Fatalf("want in_game, got %q", started.State.Phase)
	}

	r.Inbox() <- Score{PlayerID: alice.ID, Value: 30}
	r.Inbox() <- Score{PlayerID: bob.ID, Value: 45}

	ended := recvKind(t, aOut, UpdateEnded, 2*time.Second)
	if ended.Winner != bob.ID || ended.Tie {
		t.Fatalf("want bob to win, got winner=%q tie=%v", ended.Winner, ended.Tie)
	}
	if ended.State.Phase != PhaseFinished {
		t.Fatalf("want finished, got %q", ended.State.Phase)
	}
}

func TestRoom_TieHasNoWinner(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 16)
	bob, _ := joinPlayer(t, r, "bob", 16)

	r.Inbox() <- Start{PlayerID: alice.ID}
	r.Inbox() <- Score{PlayerID: alice.ID, Value: 10}
	r.Inbox() <- Score{PlayerID: bob.ID, Value: 10}

	ended := recvKind(t, aOut, UpdateEnded, 2*time.Second)
	if ended.Winner != "" || !ended.Tie {
		t.Fatalf("equal scores must tie, got winner=%q tie=%v", ended.Winner, ended.Tie)
	}
}

func TestRoom_ScoreReportsAreIdempotent(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 32)
	bob, _ := joinPlayer(t, r, "bob", 32)
	r.Inbox() <- Start{PlayerID: alice.ID}

	// A reconnecting client resends its cumulative total; it must not
	// double-count.
	r.Inbox() <- Score{PlayerID: bob.ID, Value: 45}
	r.Inbox() <- Score{PlayerID: bob.ID, Value: 45}

	ended := recvKind(t, aOut, UpdateEnded, 2*time.Second)
	i := ended.State.find(bob.ID)
	if score := ended.State.Players[i].Score; score != 45 {
		t.Fatalf("want score 45 after duplicate report, got %d", score)
	}
}

func TestRoom_StartNeedsTwoPlayers(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 8)
	r.Inbox() <- Start{PlayerID: alice.ID}

	u := recvKind(t, aOut, UpdateError, time.Second)
	if u.Err != ErrInsufficientPlayers.Error() {
		t.Fatalf("want insufficient players error, got %q", u.Err)
	}
	if v := recvView(t, r, time.Second); v.State.Phase != PhaseLobby {
		t.Fatalf("failed start must leave the room in the lobby, got %q", v.State.Phase)
	}
}

func TestRoom_NonHostCannotStartOrReset(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	_, aOut := joinPlayer(t, r, "alice", 8)
	bob, bOut := joinPlayer(t, r, "bob", 8)

	r.Inbox() <- Start{PlayerID: bob.ID}
	u := recvKind(t, bOut, UpdateError, time.Second)
	if u.Err != ErrNotHost.Error() {
		t.Fatalf("want not-host error, got %q", u.Err)
	}

	r.Inbox() <- Reset{PlayerID: bob.ID}
	u = recvKind(t, bOut, UpdateError, time.Second)
	if u.Err != ErrNotHost.Error() {
		t.Fatalf("want not-host error on reset, got %q", u.Err)
	}

	// The rest of the room saw none of it.
	select {
	case got := <-aOut:
		if got.Kind == UpdateError || got.Kind == UpdateStarted || got.Kind == UpdateReset {
			t.Fatalf("non-host rejection leaked to other members: %+v", got)
		}
	default:
	}
	if v := recvView(t, r, time.Second); v.State.Phase != PhaseLobby {
		t.Fatalf("room state changed: %q", v.State.Phase)
	}
}

func TestRoom_ScoreOutsideGameIsRejected(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 8)
	r.Inbox() <- Score{PlayerID: alice.ID, Value: 10}
	u := recvKind(t, aOut, UpdateError, time.Second)
	if u.Err != ErrNotInGame.Error() {
		t.Fatalf("want not-in-game error, got %q", u.Err)
	}
}

func TestRoom_HostLeaveLeavesRoomHostless(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, _ := joinPlayer(t, r, "alice", 8)
	_, bOut := joinPlayer(t, r, "bob", 8)

	r.Inbox() <- Leave{PlayerID: alice.ID}
	u := recvKind(t, bOut, UpdateLeft, time.Second)
	if len(u.State.Players) != 1 {
		t.Fatalf("roster not updated: %+v", u.State.Players)
	}
	// Host role is deliberately not reassigned.
	if u.State.Players[0].IsHost {
		t.Fatal("host role must not be silently reassigned")
	}
}

func TestRoom_EmptyRoomCloses(t *testing.T) {
	var closed atomic.Bool
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), func(string) { closed.Store(true) })

	alice, aOut := joinPlayer(t, r, "alice", 8)
	r.Inbox() <- Leave{PlayerID: alice.ID}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("empty room never closed")
	}
	if !closed.Load() {
		t.Fatal("registry was not notified")
	}
	if _, ok := <-aOut; ok {
		// Drain: outbox must be closed by shutdown.
		for range aOut {
		}
	}
}

func TestRoom_ResetReturnsToLobby(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, aOut := joinPlayer(t, r, "alice", 32)
	bob, _ := joinPlayer(t, r, "bob", 32)
	r.Inbox() <- Start{PlayerID: alice.ID}
	r.Inbox() <- Score{PlayerID: bob.ID, Value: 20}

	r.Inbox() <- Reset{PlayerID: alice.ID}
	u := recvKind(t, aOut, UpdateReset, time.Second)
	if u.State.Phase != PhaseLobby {
		t.Fatalf("want lobby after reset, got %q", u.State.Phase)
	}
	for _, p := range u.State.Players {
		if p.Score != 0 {
			t.Fatalf("scores must be zeroed on reset: %+v", p)
		}
	}
}

func TestRoom_JoinClosedOnceInGame(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, _ := joinPlayer(t, r, "alice", 32)
	_, _ = joinPlayer(t, r, "bob", 32)
	r.Inbox() <- Start{PlayerID: alice.ID}

	out := make(chan Update, 1)
	reply := make(chan JoinReply, 1)
	r.Inbox() <- Join{Name: "carol", Outbox: out, Reply: reply}
	jr := <-reply
	if !errors.Is(jr.Err, ErrJoinClosed) {
		t.Fatalf("want ErrJoinClosed, got %v", jr.Err)
	}
}

func TestRoom_DropSlowMember(t *testing.T) {
	r := NewRoom("ABC123", testCfg(), zap.NewNop(), nil)
	defer func() { r.Send(Shutdown{}) }()

	alice, _ := joinPlayer(t, r, "alice", 1) // tiny outbox, never drained
	_, bobOut := joinPlayer(t, r, "bob", 8)
	_, _ = joinPlayer(t, r, "carol", 8)

	// alice's outbox holds her own join broadcast; the next ones overflow it.
	v := recvView(t, r, time.Second)
	if v.NumMembers != 2 {
		t.Fatalf("expected slow member to be dropped; members=%d", v.NumMembers)
	}

	// She must also leave the roster, not linger as a ghost.
	for _, p := range v.State.Players {
		if p.ID == alice.ID {
			t.Fatalf("dropped member still in roster: %+v", v.State.Players)
		}
	}

	// The survivors hear about the departure like any other leave.
	left := recvKind(t, bobOut, UpdateLeft, time.Second)
	if left.PlayerID != alice.ID {
		t.Fatalf("player_left for %q, want %q", left.PlayerID, alice.ID)
	}
	for _, p := range left.State.Players {
		if p.ID == alice.ID {
			t.Fatalf("roster in player_left still holds the ghost: %+v", left.State.Players)
		}
	}
}

func TestRoom_IdleTimeoutCloses(t *testing.T) {
	cfg := testCfg()
	cfg.IdleTimeout = 50 * time.Millisecond
	r := NewRoom("ABC123", cfg, zap.NewNop(), nil)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("idle room never closed")
	}
}
