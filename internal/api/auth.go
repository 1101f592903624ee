package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Роли, которые выдает сервис авторизации
const (
	RoleCreator = "creator"
	RoleAdmin   = "admin"
	RoleHeadOps = "head_ops"
	RoleService = "service" // внутренние сервисы: оформление заказа, регистрация
)

type ctxKey string

const ctxActor ctxKey = "actor"

// Actor - аутентифицированный пользователь запроса
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// Claims - утверждения JWT токена
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator проверяет JWT токены, подписанные HS256
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator создает проверку токенов
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken выпускает токен. Используется утилитами и тестами.
func (a *Authenticator) IssueToken(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse проверяет токен и возвращает автора запроса
func (a *Authenticator) Parse(raw string) (*Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("недействительный токен: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("не удалось извлечь утверждения токена")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("неверный user_id в токене: %w", err)
	}
	switch claims.Role {
	case RoleCreator, RoleAdmin, RoleHeadOps, RoleService:
	default:
		return nil, fmt.Errorf("неизвестная роль %q", claims.Role)
	}

	return &Actor{UserID: userID, Role: claims.Role}, nil
}

// Middleware требует заголовок Authorization: Bearer <token>
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "токен отсутствует"})
			return
		}

		actor, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "недействительный токен"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только указанные роли
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFrom(r.Context())
			if actor == nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "токен отсутствует"})
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "недостаточно прав"})
		})
	}
}

// ActorFrom возвращает автора запроса из контекста
func ActorFrom(ctx context.Context) *Actor {
	actor, _ := ctx.Value(ctxActor).(*Actor)
	return actor
}
