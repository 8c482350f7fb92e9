package auth

import (
	"errors"
	"fmt"

	"collab-app/internal/config"
	"collab-app/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Service verifies handshake bearer tokens. Tokens are issued elsewhere;
// this service only consumes them.
type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) ValidateToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Principal authenticates a bearer token and returns the verified identity.
// Authentication happens once, at handshake time; the returned principal is
// immutable for the connection's lifetime.
func (s *Service) Principal(tokenString string) (*models.Principal, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	userIDFloat, ok := (*claims)["user_id"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: no user ID claim", ErrInvalidToken)
	}

	username, _ := (*claims)["username"].(string)

	return &models.Principal{
		UserID:   int(userIDFloat),
		Username: username,
	}, nil
}
