// Command demo runs a solo session against the simulated peripheral: it
// discovers the fake device, connects, starts a game and prints the clock
// and score as hits come in. Useful for exercising the device pipeline
// without hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/codec"
	"github.com/scorefactor/scorefactor-backend/internal/device"
	"github.com/scorefactor/scorefactor-backend/internal/sim"
	"github.com/scorefactor/scorefactor-backend/internal/solo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peripheral := sim.New(sim.Config{
		ScoreMinDelay: time.Second,
		ScoreMaxDelay: 2 * time.Second,
	})

	session := device.NewSession(peripheral, log, device.Config{})
	defer session.Close()

	devices, err := session.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no devices found")
	}
	target := devices[0]
	log.Info("connecting", zap.String("device", target.Name), zap.String("addr", target.Address))

	if err := session.Connect(ctx, target); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	events := session.Events()

	tracker := solo.NewTracker(log)
	defer tracker.Close()

	if err := session.Send("START_GAME"); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = session.Send("STOP_GAME")
			tracker.Stop()
			gs := tracker.State()
			fmt.Printf("\nfinal: %s  score %d\n", solo.FormatTime(gs.ElapsedSeconds), gs.Score)
			return nil
		case ev, ok := <-events:
			if !ok {
				// Session dropped the link; it reconnects on its own.
				// Events() keeps returning the closed stream until the link
				// is back, so wait a beat before picking it up again.
				select {
				case <-ctx.Done():
				case <-time.After(200 * time.Millisecond):
				}
				events = session.Events()
				continue
			}
			switch ev.Type {
			case codec.EventReady:
				tracker.Reset()
				tracker.Start()
			case codec.EventScore, codec.EventHit:
				tracker.ApplyEvent(ev)
				gs := tracker.State()
				fmt.Printf("%s  score %d", solo.FormatTime(gs.ElapsedSeconds), gs.Score)
				if ev.Sensor != "" {
					fmt.Printf("  (hit %s)", ev.Sensor)
				}
				fmt.Println()
			case codec.EventToken:
				log.Debug("device says", zap.String("token", ev.Token))
			}
		}
	}
}
