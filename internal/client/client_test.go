package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/client"
	"github.com/scorefactor/scorefactor-backend/internal/httpapi"
	"github.com/scorefactor/scorefactor-backend/internal/hub"
	"github.com/scorefactor/scorefactor-backend/internal/protocol"
	"github.com/scorefactor/scorefactor-backend/internal/room"
)

func newTestServer(t *testing.T) string {
	return newTestServerCfg(t, room.Config{
		MatchLength:  20,
		MaxPlayers:   8,
		TickInterval: 10 * time.Millisecond,
		IdleTimeout:  time.Minute,
	})
}

func newTestServerCfg(t *testing.T, cfg room.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, cfg, zap.NewNop())

	srv := httptest.NewServer(httpapi.SetupRoutes(h, zap.NewNop()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialClient(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url, zap.NewNop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClient_FullMatch(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	host := dialClient(t, url)
	hv, err := host.CreateRoom(ctx, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if hv.RoomID == "" || hv.SelfID == "" {
		t.Fatalf("incomplete ack: %+v", hv)
	}
	if len(hv.Players) != 1 || !hv.Players[0].IsHost {
		t.Fatalf("expected host-only roster, got %+v", hv.Players)
	}

	guest := dialClient(t, url)
	gv, err := guest.JoinRoom(ctx, hv.RoomID, "bob")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if len(gv.Players) != 2 {
		t.Fatalf("expected 2 players in join ack, got %+v", gv.Players)
	}

	// The host hears about bob through a broadcast.
	waitFor(t, "host roster", func() bool {
		return len(host.Snapshot().Players) == 2
	})

	if err := host.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "game start", func() bool {
		return host.Snapshot().Started && guest.Snapshot().Started
	})

	if err := host.ReportScore(ctx, 30); err != nil {
		t.Fatalf("host score: %v", err)
	}
	if err := guest.ReportScore(ctx, 45); err != nil {
		t.Fatalf("guest score: %v", err)
	}

	// Match length is 20 ticks at 10ms, the server ends it on its own.
	waitFor(t, "game end", func() bool {
		return host.Snapshot().Finished && guest.Snapshot().Finished
	})

	v := host.Snapshot()
	if v.Tie {
		t.Fatal("did not expect a tie")
	}
	if v.Winner != gv.SelfID {
		t.Fatalf("winner = %q, want %q (bob)", v.Winner, gv.SelfID)
	}

	rows := host.Standings()
	if len(rows) != 2 || rows[0].Name != "bob" || rows[0].Score != 45 {
		t.Fatalf("unexpected standings: %+v", rows)
	}
	if rows[1].Name != "alice" || rows[1].Score != 30 {
		t.Fatalf("unexpected runner-up: %+v", rows)
	}
}

func TestClient_TieFinish(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	host := dialClient(t, url)
	hv, err := host.CreateRoom(ctx, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	guest := dialClient(t, url)
	if _, err := guest.JoinRoom(ctx, hv.RoomID, "bob"); err != nil {
		t.Fatalf("join room: %v", err)
	}
	waitFor(t, "host roster", func() bool {
		return len(host.Snapshot().Players) == 2
	})

	if err := host.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "game start", func() bool { return guest.Snapshot().Started })

	if err := host.ReportScore(ctx, 10); err != nil {
		t.Fatalf("host score: %v", err)
	}
	if err := guest.ReportScore(ctx, 10); err != nil {
		t.Fatalf("guest score: %v", err)
	}

	waitFor(t, "game end", func() bool { return host.Snapshot().Finished })

	v := host.Snapshot()
	if !v.Tie || v.Winner != "" {
		t.Fatalf("expected a tie, got winner=%q tie=%v", v.Winner, v.Tie)
	}
}

func TestClient_JoinUnknownRoomFails(t *testing.T) {
	url := newTestServer(t)

	c := dialClient(t, url)
	_, err := c.JoinRoom(context.Background(), "NOSUCH", "mallory")
	if err == nil {
		t.Fatal("expected join to fail")
	}
	if !strings.Contains(err.Error(), "room not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_NonHostStartIsRejected(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	host := dialClient(t, url)
	hv, err := host.CreateRoom(ctx, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	guest := dialClient(t, url)
	if _, err := guest.JoinRoom(ctx, hv.RoomID, "bob"); err != nil {
		t.Fatalf("join room: %v", err)
	}

	if err := guest.Start(ctx); err != nil {
		t.Fatalf("start write: %v", err)
	}

	// The rejection goes only to the guest.
	waitFor(t, "error envelope", func() bool {
		return guest.Snapshot().LastError != ""
	})
	if host.Snapshot().LastError != "" {
		t.Fatalf("host saw an error it should not have: %q", host.Snapshot().LastError)
	}
	if guest.Snapshot().Started {
		t.Fatal("game must not have started")
	}
}

func TestClient_UpdatesStreamCarriesBroadcasts(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	host := dialClient(t, url)
	hv, err := host.CreateRoom(ctx, "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	guest := dialClient(t, url)
	if _, err := guest.JoinRoom(ctx, hv.RoomID, "bob"); err != nil {
		t.Fatalf("join room: %v", err)
	}

	// Drain the host stream until the player_joined broadcast shows up.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-host.Updates():
			if pj, ok := msg.(protocol.PlayerJoined); ok {
				if len(pj.Players) != 2 {
					t.Fatalf("unexpected roster in broadcast: %+v", pj.Players)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for player_joined")
		}
	}
}

func TestClient_IdleRoomSaysGoodbye(t *testing.T) {
	url := newTestServerCfg(t, room.Config{
		MatchLength:  20,
		MaxPlayers:   8,
		TickInterval: 10 * time.Millisecond,
		IdleTimeout:  50 * time.Millisecond,
	})
	ctx := context.Background()

	c := dialClient(t, url)
	if _, err := c.CreateRoom(ctx, "alice"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	// Send nothing; the room idles out and the server must say so and hang
	// up rather than go silent.
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection stayed open after the room idled out")
	}
	if got := c.Snapshot().LastError; got != "room closed" {
		t.Fatalf("LastError = %q, want the room closed envelope", got)
	}

	// Later intents resolve to an error instead of vanishing.
	if err := c.Start(ctx); err == nil {
		t.Fatal("start after the room died must fail")
	}
}

func TestClient_SecondCreateRejectedLocally(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	c := dialClient(t, url)
	if _, err := c.CreateRoom(ctx, "alice"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := c.CreateRoom(ctx, "alice"); err != client.ErrAlreadyIn {
		t.Fatalf("err = %v, want ErrAlreadyIn", err)
	}
}
