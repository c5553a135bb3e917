// Package codec parses and serialises the line-oriented frames spoken by the
// scoring peripheral. One frame is one newline-terminated UTF-8 line. Inbound
// lines are first tried as a structured JSON object; anything that fails that
// decode degrades to a token event rather than an error, so a garbled frame
// never takes the stream down.
package codec

import (
	"encoding/json"
	"strconv"
	"strings"
)

type EventType string

const (
	EventScore  EventType = "score"  // score delta from the device
	EventHit    EventType = "hit"    // a sensor hit with the running total
	EventReady  EventType = "ready"  // device announced it is ready
	EventButton EventType = "button" // physical button press
	EventToken  EventType = "token"  // anything we don't recognise
)

// Event is one decoded inbound frame.
type Event struct {
	Type   EventType
	Points int    // score delta (EventScore) or running total (EventHit)
	Sensor string // which sensor fired, when the device says
	Token  string // the trimmed raw line, always set
}

// Outbound command tokens understood by the peripheral firmware.
const (
	CmdStartGame  = "START_GAME"
	CmdStopGame   = "STOP_GAME"
	CmdResetGame  = "RESET_GAME"
	CmdBattleMode = "BATTLE_MODE"
	CmdSoloMode   = "SOLO_MODE"
	CmdGetStatus  = "GET_STATUS"
)

const (
	scorePrefix = "SCORE_UPDATE:"
	hitPrefix   = "HIT_"
	hitScoreSep = "_SCORE_"
)

// structuredFrame is the JSON shape some firmware revisions send instead of
// plain tokens. Score is a pointer so a frame without it is distinguishable
// from an explicit zero.
type structuredFrame struct {
	Score  *int   `json:"score"`
	Sensor string `json:"sensor"`
}

// DecodeLine turns one raw inbound line into an Event. It never fails: a
// malformed or unrecognised line comes back as an EventToken carrying the
// trimmed input so downstream consumers can ignore what they don't know.
func DecodeLine(line string) Event {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "{") {
		var sf structuredFrame
		if err := json.Unmarshal([]byte(trimmed), &sf); err == nil && sf.Score != nil && *sf.Score >= 0 {
			return Event{Type: EventScore, Points: *sf.Score, Sensor: sf.Sensor, Token: trimmed}
		}
		// Bad JSON or a negative score falls through to token handling.
	}

	upper := strings.ToUpper(trimmed)

	if rest, ok := strings.CutPrefix(upper, scorePrefix); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err == nil && n >= 0 {
			return Event{Type: EventScore, Points: n, Token: trimmed}
		}
		return Event{Type: EventToken, Token: trimmed}
	}

	if rest, ok := strings.CutPrefix(upper, hitPrefix); ok {
		if sensor, total, found := strings.Cut(rest, hitScoreSep); found {
			n, err := strconv.Atoi(total)
			if err == nil && n >= 0 {
				return Event{Type: EventHit, Points: n, Sensor: sensor, Token: trimmed}
			}
		}
		return Event{Type: EventToken, Token: trimmed}
	}

	switch upper {
	case "DEVICE_READY", "ESP32_READY":
		return Event{Type: EventReady, Token: trimmed}
	case "BUTTON_PRESS", "BUTTON_PRESSED":
		return Event{Type: EventButton, Token: trimmed}
	}

	return Event{Type: EventToken, Token: trimmed}
}

// EncodeCommand frames an outbound command token. Commands are case
// insensitive on the wire; we normalise to upper case like the firmware does.
func EncodeCommand(cmd string) string {
	return strings.ToUpper(strings.TrimSpace(cmd)) + "\n"
}

// EncodeScore frames a score delta the way the peripheral reports its own:
// decoding the result yields the same delta back.
func EncodeScore(delta int) string {
	return scorePrefix + " " + strconv.Itoa(delta) + "\n"
}
