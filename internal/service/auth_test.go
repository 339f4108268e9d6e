package service

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

func TestAuthService_Authenticate_Success(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "jwtSecret", &mockLogger{})

	tokenStr, err := authSvc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if tokenStr == "" {
		t.Errorf("expected non-empty token")
	}
	parsed, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (interface{}, error) {
		return []byte("jwtSecret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Errorf("failed to parse or invalid token: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("unexpected claims type: %T", parsed.Claims)
	}
	if claims["sub"] != "admin" || claims["role"] != "operator" {
		t.Errorf("claims mismatch: %v", claims)
	}
}

func TestAuthService_Authenticate_StaticToken(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "jwtSecret", &mockLogger{})

	first, err := authSvc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := authSvc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected identical tokens across logins")
	}
}

func TestAuthService_Authenticate_WrongPassword(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "jwtSecret", &mockLogger{})

	tokenStr, err := authSvc.Authenticate("admin", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tokenStr != "" {
		t.Errorf("expected empty token, got: %s", tokenStr)
	}
}

func TestAuthService_Authenticate_WrongUser(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "jwtSecret", &mockLogger{})

	if _, err := authSvc.Authenticate("root", "secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthService_Authenticate_NoPasswordConfigured(t *testing.T) {
	authSvc := NewAuthService("admin", "", "jwtSecret", &mockLogger{})

	if _, err := authSvc.Authenticate("admin", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized with empty configured password, got %v", err)
	}
}

func TestAuthService_Authenticate_EmptySecret(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "", &mockLogger{})

	if _, err := authSvc.Authenticate("admin", "secret"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestAuthService_ValidateToken(t *testing.T) {
	authSvc := NewAuthService("admin", "secret", "jwtSecret", &mockLogger{})
	token, err := authSvc.Authenticate("admin", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := authSvc.ValidateToken(token); err != nil {
		t.Errorf("expected valid token, got %v", err)
	}
	if err := authSvc.ValidateToken(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for empty token, got %v", err)
	}
	if err := authSvc.ValidateToken(token + "x"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for tampered token, got %v", err)
	}

	other := NewAuthService("admin", "secret", "otherSecret", &mockLogger{})
	if err := other.ValidateToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for foreign secret, got %v", err)
	}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin", "role": "buyer"})
	forgedStr, _ := forged.SignedString([]byte("jwtSecret"))
	if err := authSvc.ValidateToken(forgedStr); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for wrong role, got %v", err)
	}
}
