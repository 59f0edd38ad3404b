package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a per-game push event.
type Kind string

const (
	KindGameData              Kind = "gamedata"
	KindMove                  Kind = "move"
	KindClock                 Kind = "clock"
	KindPhase                 Kind = "phase"
	KindRemovedStones         Kind = "removed_stones"
	KindRemovedStonesAccepted Kind = "removed_stones_accepted"
	KindUndoRequested         Kind = "undo_requested"
)

// Wire names of client and global messages.
const (
	ActiveGameEvent   = "active_game"
	ConnectCommand    = "game/connect"
	DisconnectCommand = "game/disconnect"
	MoveCommand       = "game/move"
)

// Event is a single push message for one game.
type Event struct {
	ID         string          `json:"id"`
	GameID     int64           `json:"game_id"`
	Kind       Kind            `json:"kind"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

// Known reports whether k is one of the per-game kinds the engine consumes.
func (k Kind) Known() bool {
	switch k {
	case KindGameData, KindMove, KindClock, KindPhase,
		KindRemovedStones, KindRemovedStonesAccepted, KindUndoRequested:
		return true
	}
	return false
}

// ParseEventPayload decodes the event body into its typed payload.
func ParseEventPayload(event Event) (interface{}, error) {
	switch event.Kind {
	case KindGameData:
		var payload GameDataPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindMove:
		var payload MovePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindClock:
		var payload ClockPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindPhase:
		var payload PhasePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindRemovedStones:
		var payload RemovedStonesPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindRemovedStonesAccepted:
		var payload RemovedStonesAcceptedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case KindUndoRequested:
		var payload UndoRequestedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event kind: %s", event.Kind)
	}
}

// Envelope is the `[name, payload]` array every socket frame is wrapped in.
type Envelope struct {
	Name    string
	Payload json.RawMessage
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("decode envelope: empty frame")
	}
	if err := json.Unmarshal(parts[0], &e.Name); err != nil {
		return fmt.Errorf("decode envelope name: %w", err)
	}
	if len(parts) > 1 {
		e.Payload = parts[1]
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return json.Marshal([]interface{}{e.Name, payload})
}

// NewEnvelope marshals payload under name.
func NewEnvelope(name string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Envelope{Name: name, Payload: data}, nil
}

// GameEventName is the frame name for kind on gameID, e.g. "game/123/move".
func GameEventName(gameID int64, kind Kind) string {
	return "game/" + strconv.FormatInt(gameID, 10) + "/" + string(kind)
}

// SplitGameEventName parses "game/<id>/<kind>". ok is false for any other name.
func SplitGameEventName(name string) (gameID int64, kind Kind, ok bool) {
	rest, found := strings.CutPrefix(name, "game/")
	if !found {
		return 0, "", false
	}
	idPart, kindPart, found := strings.Cut(rest, "/")
	if !found {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, Kind(kindPart), true
}
