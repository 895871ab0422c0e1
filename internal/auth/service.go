package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	devUserID = "agent-dev"
	devTTL    = 30 * 24 * time.Hour
)

// Service issues and verifies HS256 access tokens.
type Service struct {
	config *config.Config
	now    func() time.Time
}

func NewService(cfg *config.Config) *Service {
	return &Service{config: cfg, now: time.Now}
}

// SignInDev issues a 30 day token for local development.
func (s *Service) SignInDev(ctx context.Context, req DevAuthRequest) (*DevAuthResponse, error) {
	_ = ctx

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = devUserID
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = userctx.RoleAgent
	}
	if role != userctx.RoleAgent && role != userctx.RoleAdmin {
		return nil, apperr.WithFields(apperr.KindValidation, "invalid dev auth request", []apperr.FieldError{
			{Field: "role", Message: "must be agent or admin"},
		})
	}

	token, err := s.Issue(userctx.Identity{UserID: userID, Role: role}, devTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dev JWT: %w", err)
	}

	return &DevAuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(devTTL.Seconds()),
		UserID:      userID,
		Role:        role,
	}, nil
}

// Issue signs a token for id. A zero ttl uses JWT_TTL_MINUTES.
func (s *Service) Issue(id userctx.Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Duration(s.config.JWTTTLMinutes) * time.Minute
	}
	now := s.now()

	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.config.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// VerifyJWT checks signature, issuer and expiry and returns the caller identity.
func (s *Service) VerifyJWT(tokenString string) (userctx.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.JWTIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return userctx.Identity{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = userctx.RoleAgent
	}
	return userctx.Identity{UserID: claims.Subject, Role: role}, nil
}
