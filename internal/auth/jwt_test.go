package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

func TestGenerateAndValidate(t *testing.T) {
	service := NewService("test-secret-key", time.Hour)

	token, expiresAt, err := service.GenerateToken(model.Identity{UserID: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("Token should not be empty")
	}
	if !expiresAt.After(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}

	claims, err := service.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if got := claims.Identity(); got != (model.Identity{UserID: "alice", DisplayName: "Alice"}) {
		t.Errorf("Unexpected identity %+v", got)
	}
}

func TestValidate_Expired(t *testing.T) {
	service := NewService("test-secret-key", -time.Minute)

	token, _, err := service.GenerateToken(model.Identity{UserID: "alice"})
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := service.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	token, _, err := NewService("secret-a", time.Hour).GenerateToken(model.Identity{UserID: "alice"})
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := NewService("secret-b", time.Hour).ValidateAccessToken(token); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidate_RejectsForeignTokens(t *testing.T) {
	service := NewService("test-secret-key", time.Hour)

	tests := []struct {
		name   string
		claims jwt.Claims
		method jwt.SigningMethod
	}{
		{
			name:   "other issuer",
			claims: &Claims{UserID: "alice", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}},
			method: jwt.SigningMethodHS256,
		},
		{
			name:   "missing user",
			claims: &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}},
			method: jwt.SigningMethodHS256,
		},
		{
			name:   "none algorithm",
			claims: &Claims{UserID: "alice", RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}},
			method: jwt.SigningMethodNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var key interface{} = []byte("test-secret-key")
			if tt.method == jwt.SigningMethodNone {
				key = jwt.UnsafeAllowNoneSignatureType
			}
			token, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(key)
			if err != nil {
				t.Fatalf("Failed to sign: %v", err)
			}
			if _, err := service.ValidateAccessToken(token); err != ErrTokenInvalid {
				t.Errorf("Expected ErrTokenInvalid, got %v", err)
			}
		})
	}

	if _, _, err := service.GenerateToken(model.Identity{}); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid for empty identity, got %v", err)
	}
}
