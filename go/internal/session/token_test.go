package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func TestUserIDFromToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		want    int64
		wantErr error
	}{
		{name: "user id", token: sign(t, jwt.MapClaims{"user_id": 1234567}), want: 1234567},
		{name: "missing claim", token: sign(t, jwt.MapClaims{"username": "me"}), wantErr: ErrNoUserID},
		{name: "string claim", token: sign(t, jwt.MapClaims{"user_id": "42"}), wantErr: ErrNoUserID},
		{name: "fractional claim", token: sign(t, jwt.MapClaims{"user_id": 4.5}), wantErr: ErrNoUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("user id = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := UserIDFromToken("not a token"); err == nil {
		t.Error("malformed token accepted")
	}
}

func TestCheckExpiry(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)

	if err := CheckExpiry(sign(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), now); err != nil {
		t.Errorf("valid token: %v", err)
	}
	if err := CheckExpiry(sign(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}), now); !errors.Is(err, ErrExpired) {
		t.Errorf("expired token err = %v, want ErrExpired", err)
	}
	if err := CheckExpiry(sign(t, jwt.MapClaims{"user_id": 1}), now); err != nil {
		t.Errorf("token without exp: %v", err)
	}
}
