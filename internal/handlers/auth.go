package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims: утверждения токена доступа
type Claims struct {
	UserID int64           `json:"uid"`
	Email  string          `json:"email"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken выпускает HS256-токен для пользователя
func GenerateToken(u models.User, secret, issuer string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	expiresAt := time.Now().Add(ttl)
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.Email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

type actorKey struct{}

// WithActor кладёт пользователя в контекст запроса
func WithActor(ctx context.Context, a workflow.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom достаёт пользователя из контекста
func ActorFrom(ctx context.Context) (workflow.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(workflow.Actor)
	return a, ok
}

// Authenticator проверяет Bearer-токен и кладёт workflow.Actor в контекст
func Authenticator(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := parseBearer(r.Header.Get("Authorization"), secret, issuer)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func parseBearer(header, secret, issuer string) (workflow.Actor, error) {
	if secret == "" {
		return workflow.Actor{}, errors.New("authentication is not configured")
	}
	if header == "" {
		return workflow.Actor{}, errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return workflow.Actor{}, errors.New("invalid authorization header format")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return workflow.Actor{}, errors.New("invalid or expired token")
	}
	if claims.Role != models.UserRoleAdmin && claims.Role != models.UserRoleUser {
		return workflow.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return workflow.Actor{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// actor возвращает пользователя запроса. Маршруты под Authenticator всегда его имеют.
func actor(r *http.Request) workflow.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}
