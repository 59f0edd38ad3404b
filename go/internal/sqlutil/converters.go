package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and sql.Null* types.
// Timestamps are stored as epoch milliseconds so both SQLite and Postgres
// order and compare them the same way.

// ToSqlInt32 converts a Go int pointer to sql.NullInt32
func ToSqlInt32(val *int) sql.NullInt32 {
	if val == nil {
		return sql.NullInt32{Valid: false}
	}
	return sql.NullInt32{Int32: int32(*val), Valid: true}
}

// FromSqlInt32 converts sql.NullInt32 to Go int pointer
func FromSqlInt32(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// ToSqlString converts a Go string pointer to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// FromSqlStringPtr converts sql.NullString to Go string pointer
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

// ToSqlFloat64 converts a Go float pointer to sql.NullFloat64
func ToSqlFloat64(val *float64) sql.NullFloat64 {
	if val == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *val, Valid: true}
}

// FromSqlFloat64 converts sql.NullFloat64 to Go float pointer
func FromSqlFloat64(val sql.NullFloat64) *float64 {
	if !val.Valid {
		return nil
	}
	f := val.Float64
	return &f
}

// ToSqlBool stores a nullable bool as 0/1 in an integer column.
func ToSqlBool(val *bool) sql.NullInt64 {
	if val == nil {
		return sql.NullInt64{Valid: false}
	}
	if *val {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Int64: 0, Valid: true}
}

// FromSqlBool reads a nullable 0/1 integer column.
func FromSqlBool(val sql.NullInt64) *bool {
	if !val.Valid {
		return nil
	}
	b := val.Int64 != 0
	return &b
}

// BoolToInt converts a non-null bool for an integer column.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ToSqlMillis converts a Go time pointer to nullable epoch milliseconds.
func ToSqlMillis(val *time.Time) sql.NullInt64 {
	if val == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: val.UnixMilli(), Valid: true}
}

// FromSqlMillis converts nullable epoch milliseconds to a Go time pointer.
func FromSqlMillis(val sql.NullInt64) *time.Time {
	if !val.Valid {
		return nil
	}
	t := time.UnixMilli(val.Int64)
	return &t
}

// ToNullJSON marshals v into a nullable JSON column. A nil pointer is stored
// as NULL.
func ToNullJSON[T any](v *T) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal json column: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// FromNullJSON unmarshals a nullable JSON column.
func FromNullJSON[T any](val pqtype.NullRawMessage) (*T, error) {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(val.RawMessage, &v); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return &v, nil
}
