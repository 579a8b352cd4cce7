package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(testSecret, "gatehouse-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	return tm
}

func TestNewTokenManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		issuer  string
		ttl     time.Duration
		wantErr bool
	}{
		{"valid", testSecret, "gatehouse", time.Hour, false},
		{"short secret", "short", "gatehouse", time.Hour, true},
		{"missing issuer", testSecret, "", time.Hour, true},
		{"zero ttl", testSecret, "gatehouse", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenManager(tt.secret, tt.issuer, tt.ttl)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTokenManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := newTestManager(t)

	token, claims, err := tm.CreateToken("user-1", "role-1", 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("expected a three-part JWT, got %q", token)
	}

	authCtx, err := tm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if authCtx.UserID() != "user-1" {
		t.Errorf("UserID() = %q, want user-1", authCtx.UserID())
	}
	if authCtx.RoleID() != "role-1" {
		t.Errorf("RoleID() = %q, want role-1", authCtx.RoleID())
	}
	if authCtx.TokenID != claims.ID {
		t.Errorf("TokenID = %q, want %q", authCtx.TokenID, claims.ID)
	}
}

func TestTokenManager_CreateTokenRequiresUser(t *testing.T) {
	tm := newTestManager(t)
	if _, _, err := tm.CreateToken("", "role-1", 0); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestTokenManager_Expired(t *testing.T) {
	tm := newTestManager(t)
	issued := time.Now().Add(-2 * time.Hour)
	tm.now = func() time.Time { return issued }

	token, _, err := tm.CreateToken("user-1", "role-1", time.Minute)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	tm.now = time.Now
	if _, err := tm.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := newTestManager(t)

	other, err := NewTokenManager(strings.Repeat("x", 32), "gatehouse-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, _ := other.CreateToken("user-1", "role-1", 0)

	wrongIssuer, err := NewTokenManager(testSecret, "someone-else", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	misissued, _, _ := wrongIssuer.CreateToken("user-1", "role-1", 0)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RoleID: "role-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "gatehouse-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RoleID: "role-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
			Issuer:  "gatehouse-test",
		},
	})
	eternal, _ := noExpiry.SignedString([]byte(testSecret))

	tests := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  foreign,
		"wrong issuer":  misissued,
		"alg none":      unsigned,
		"no expiration": eternal,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := tm.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthContext_NilSafe(t *testing.T) {
	var ac *AuthContext
	if ac.UserID() != "" || ac.RoleID() != "" {
		t.Error("nil AuthContext should report empty ids")
	}
}
