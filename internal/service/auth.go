package service

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"nft-shop/pkg"
)

// AuthService checks the single operator credential and issues the operator
// token. The token carries fixed claims, so every login yields the same value
// and it stays valid until the secret changes.
type AuthService interface {
	Authenticate(username, password string) (string, error)
	ValidateToken(token string) error
}

type authService struct {
	username  string
	password  string
	jwtSecret string
	log       pkg.Logger
}

func NewAuthService(username, password, jwtSecret string, logger pkg.Logger) AuthService {
	return &authService{
		username:  username,
		password:  password,
		jwtSecret: jwtSecret,
		log:       logger,
	}
}

func (s *authService) Authenticate(username, password string) (string, error) {
	if s.jwtSecret == "" {
		s.log.Error("auth: empty JWT secret key")
		return "", errors.New("could not generate token: empty secret key")
	}
	if s.password == "" {
		s.log.Warn("auth: operator password not configured")
		return "", ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		s.log.Warn("invalid credentials", zap.String("username", username))
		return "", ErrUnauthorized
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  s.username,
		"role": "operator",
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.log.Error("failed to generate token", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	s.log.Info("Operator authenticated", zap.String("username", username))
	return tokenString, nil
}

func (s *authService) ValidateToken(tokenString string) error {
	if tokenString == "" || s.jwtSecret == "" {
		return ErrUnauthorized
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["role"] != "operator" || claims["sub"] != s.username {
		return ErrUnauthorized
	}
	return nil
}
