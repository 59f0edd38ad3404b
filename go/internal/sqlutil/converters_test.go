package sqlutil

import (
	"testing"
	"time"
)

func TestMillisConverters(t *testing.T) {
	t.Parallel()

	if got := ToSqlMillis(nil); got.Valid {
		t.Errorf("ToSqlMillis(nil) = %+v, want invalid", got)
	}

	ts := time.UnixMilli(1_700_000_000_123)
	n := ToSqlMillis(&ts)
	if !n.Valid || n.Int64 != 1_700_000_000_123 {
		t.Fatalf("ToSqlMillis = %+v, want 1700000000123", n)
	}
	if back := FromSqlMillis(n); back == nil || !back.Equal(ts) {
		t.Errorf("FromSqlMillis = %v, want %v", back, ts)
	}
}

func TestBoolConverters(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	if got := FromSqlBool(ToSqlBool(&yes)); got == nil || !*got {
		t.Errorf("true round trip = %v", got)
	}
	if got := FromSqlBool(ToSqlBool(&no)); got == nil || *got {
		t.Errorf("false round trip = %v", got)
	}
	if got := FromSqlBool(ToSqlBool(nil)); got != nil {
		t.Errorf("nil round trip = %v", *got)
	}
}

func TestNullJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		N int `json:"n"`
	}

	raw, err := ToNullJSON[payload](nil)
	if err != nil || raw.Valid {
		t.Fatalf("ToNullJSON(nil) = (%+v, %v), want invalid", raw, err)
	}
	if got, err := FromNullJSON[payload](raw); err != nil || got != nil {
		t.Errorf("FromNullJSON(null) = (%v, %v), want (nil, nil)", got, err)
	}

	raw, err = ToNullJSON(&payload{N: 3})
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	got, err := FromNullJSON[payload](raw)
	if err != nil || got == nil || got.N != 3 {
		t.Errorf("FromNullJSON = (%v, %v), want {3}", got, err)
	}
}
