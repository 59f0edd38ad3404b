package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/kifu/go/internal/models"
)

func TestSplitGameEventName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		wantID   int64
		wantKind Kind
		wantOK   bool
	}{
		{"game/42/move", 42, KindMove, true},
		{"game/42/removed_stones_accepted", 42, KindRemovedStonesAccepted, true},
		{"active_game", 0, "", false},
		{"game/abc/move", 0, "", false},
		{"game/42", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, kind, ok := SplitGameEventName(tt.name)
			if id != tt.wantID || kind != tt.wantKind || ok != tt.wantOK {
				t.Errorf("SplitGameEventName(%q) = (%d, %q, %v), want (%d, %q, %v)",
					tt.name, id, kind, ok, tt.wantID, tt.wantKind, tt.wantOK)
			}
		})
	}

	if got := GameEventName(42, KindClock); got != "game/42/clock" {
		t.Errorf("GameEventName = %q, want %q", got, "game/42/clock")
	}
}

func TestEnvelopeDecode(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal([]byte(`["game/5/move", {"move_number": 3, "move": [3, 4, 1200]}]`), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Name != "game/5/move" {
		t.Errorf("name = %q, want %q", env.Name, "game/5/move")
	}

	payload, err := ParseEventPayload(Event{Kind: KindMove, Data: env.Payload})
	if err != nil {
		t.Fatalf("ParseEventPayload: %v", err)
	}
	move, ok := payload.(MovePayload)
	if !ok {
		t.Fatalf("payload type = %T, want MovePayload", payload)
	}
	cell, err := move.Cell()
	if err != nil {
		t.Fatalf("Cell: %v", err)
	}
	if cell != (models.Cell{X: 3, Y: 4}) {
		t.Errorf("cell = %v, want {3 4}", cell)
	}

	if err := json.Unmarshal([]byte(`[]`), &env); err == nil {
		t.Error("empty frame decoded without error")
	}
}

func TestParseEventPayloadUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := ParseEventPayload(Event{Kind: "chat", Data: json.RawMessage(`{}`)}); err == nil {
		t.Error("unknown kind parsed without error")
	}
}

func TestClockPayloadSideTimes(t *testing.T) {
	t.Parallel()

	raw := `{"current_player": 7, "last_move": 1000, "now": 2000,
		"white_time": {"thinking_time": 30.5, "periods": 3, "period_time": 10},
		"black_time": 90}`
	var c ClockPayload
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal clock: %v", err)
	}
	clock := c.ToClock()

	if clock.WhiteTime == nil || clock.WhiteTimeSimple != nil {
		t.Fatalf("white time = (%v, %v), want structured only", clock.WhiteTime, clock.WhiteTimeSimple)
	}
	if clock.WhiteTime.ThinkingTime != 30500*time.Millisecond {
		t.Errorf("white thinking = %v, want 30.5s", clock.WhiteTime.ThinkingTime)
	}
	if clock.BlackTimeSimple == nil || *clock.BlackTimeSimple != 90*time.Second {
		t.Errorf("black simple = %v, want 90s", clock.BlackTimeSimple)
	}
	if clock.ServerNow == nil || !clock.ServerNow.Equal(time.UnixMilli(2000)) {
		t.Errorf("server now = %v, want 2000ms", clock.ServerNow)
	}
}

func TestGameDataToUpdate(t *testing.T) {
	t.Parallel()

	winner := int64(2)
	end := int64(1700000000)
	d := GameDataPayload{
		Phase:         models.PhaseFinished,
		Moves:         [][]float64{{3, 3, 100}, {15, 15, 200}, {-1, -1, 300}},
		Outcome:       "Resignation",
		Winner:        &winner,
		WhitePlayerID: 1,
		BlackPlayerID: 2,
		EndTime:       &end,
		Score:         &ScoresPayload{White: &ScorePayload{Total: 6.5}},
	}

	u := d.ToUpdate()

	wantMoves := []models.Cell{{X: 3, Y: 3}, {X: 15, Y: 15}, models.PassCell}
	if diff := cmp.Diff(wantMoves, u.Moves); diff != "" {
		t.Errorf("moves mismatch (-want +got):\n%s", diff)
	}
	if u.WhiteLost == nil || !*u.WhiteLost {
		t.Errorf("white lost = %v, want true", u.WhiteLost)
	}
	if u.BlackLost == nil || *u.BlackLost {
		t.Errorf("black lost = %v, want false", u.BlackLost)
	}
	if u.Ended == nil || u.Ended.UnixMilli() != end*1000 {
		t.Errorf("ended = %v, want %d ms", u.Ended, end*1000)
	}
	if u.WhiteScore == nil || *u.WhiteScore != 6.5 || u.BlackScore != nil {
		t.Errorf("scores = (%v, %v), want (6.5, nil)", u.WhiteScore, u.BlackScore)
	}
}
