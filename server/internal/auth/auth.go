// Package auth issues and validates the bearer tokens clients use to open a
// real-time session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/huddle-chat/huddle/server/internal/config"
	"github.com/huddle-chat/huddle/server/internal/store"
)

var (
	ErrInvalidLogin = errors.New("invalid login")
	ErrUnauthorized = errors.New("unauthorized")
)

// Claims represents the JWT token claims.
type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller behind a token.
type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

// LoginRequest is an identity already resolved by the external login flow.
type LoginRequest struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

// Service handles login and token validation.
type Service struct {
	store     store.Store
	jwtSecret []byte
	jwtExpiry time.Duration
	now       func() time.Time
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:     s,
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: cfg.JWTExpiry.Duration,
		now:       time.Now,
	}
}

// Login upserts the user identified by (provider, provider_id) and returns a
// signed token for it.
func (s *Service) Login(ctx context.Context, req LoginRequest) (string, *store.User, error) {
	req.Provider = strings.TrimSpace(req.Provider)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.Provider == "" || req.ProviderID == "" {
		return "", nil, fmt.Errorf("%w: provider and provider_id are required", ErrInvalidLogin)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.ProviderID
	}

	user, err := s.store.UpsertUser(ctx, &store.User{
		ID:         uuid.New().String(),
		Provider:   req.Provider,
		ProviderID: req.ProviderID,
		Email:      req.Email,
		Name:       name,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("upsert user: %w", err)
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

// ValidateToken validates a bearer token and returns its Identity.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	id := &Identity{UserID: claims.UserID, Name: claims.Name}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *Service) generateToken(user *store.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
