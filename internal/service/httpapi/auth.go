package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const actorContextKey = "fulfillment.actor"

// ActorClaims: claims токена кассира. Subject содержит идентификатор пользователя.
type ActorClaims struct {
	Admin bool `json:"admin"`
	jwt.StandardClaims
}

// IssueToken подписывает токен HS256 для actor.
func IssueToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := ActorClaims{
		Admin: actor.Admin,
		StandardClaims: jwt.StandardClaims{
			Subject:   actor.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret []byte, raw string) (domain.Actor, error) {
	token, err := jwt.ParseWithClaims(raw, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return domain.Actor{}, err
	}
	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return domain.Actor{}, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Actor{}, errors.New("token subject is empty")
	}
	return domain.Actor{ID: claims.Subject, Admin: claims.Admin}, nil
}

// authenticate кладёт в контекст запроса actor из заголовка Authorization.
// Запрос без заголовка проходит дальше анонимным, неверный токен отклоняется сразу.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "authorization header must be a bearer token"})
			return
		}
		if len(s.jwtSecret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "token authentication is not configured"})
			return
		}

		actor, err := parseToken(s.jwtSecret, strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid token"})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Authenticated() {
			writeError(c, domain.ErrUnauthenticated)
			c.Abort()
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Admin {
			writeError(c, domain.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return domain.Actor{}
	}
	actor, _ := v.(domain.Actor)
	return actor
}
