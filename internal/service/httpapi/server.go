package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/creditpool"
)

// OrderEngine: операции над заказами, которые нужны HTTP-слою.
type OrderEngine interface {
	Create(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (domain.CreateOrderResult, error)
	Delete(ctx context.Context, actor domain.Actor, orderID string) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, limit int) ([]domain.Order, error)
	AvailableAccounts(ctx context.Context, family string, minBalance decimal.Decimal) ([]creditpool.AccountBalance, error)
	EffectiveStock(ctx context.Context, bundleID string) (int64, error)
	ListOrphans(ctx context.Context, limit int) ([]domain.OrphanedRestoration, error)
}

// Server собирает gin-роутер поверх движка заказов и сервиса каталога.
type Server struct {
	engine         OrderEngine
	catalog        *catalog.Service
	idempotency    domain.IdempotencyRepository
	jwtSecret      []byte
	allowedOrigins []string
	idempotencyTTL time.Duration
	logger         *log.Entry
	now            func() time.Time
}

// Option настраивает Server.
type Option func(*Server)

// WithIdempotency включает повтор ответов POST /orders по заголовку Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *Server) {
		s.idempotency = repo
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithJWTSecret задаёт ключ HS256 для проверки токенов.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		s.jwtSecret = []byte(secret)
	}
}

// WithAllowedOrigins ограничивает CORS списком origin. Пустой список разрешает все.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer создаёт HTTP-слой.
func NewServer(engine OrderEngine, catalogSvc *catalog.Service, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		catalog:        catalogSvc,
		idempotencyTTL: domain.DefaultIdempotencyTTL,
		logger:         log.WithField("component", "http-api"),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router возвращает gin.Engine со всеми маршрутами.
func (s *Server) Router() *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(s.requestLogger())
	r.Use(gin.Recovery())
	r.Use(cors.New(s.corsConfig()))
	r.Use(s.authenticate())

	api := r.Group("/", requireActor())

	api.POST("/orders", s.createOrder)
	api.GET("/orders", s.listOrders)
	api.GET("/orders/:id", s.getOrder)
	api.DELETE("/orders/:id", s.deleteOrder)

	api.GET("/credit-accounts", s.listCreditAccounts)
	api.GET("/bundles/:id/stock", s.bundleStock)
	api.GET("/catalog/items", s.listItems)

	admin := api.Group("/", requireAdmin())
	admin.POST("/catalog/items", s.upsertItem)
	admin.DELETE("/catalog/items/:id", s.deleteItem)
	admin.POST("/catalog/items/:id/lots", s.addLot)
	admin.DELETE("/catalog/lots/:id", s.deleteLot)
	admin.PUT("/catalog/bundles/:id/components", s.setBundleComponents)
	admin.POST("/catalog/accounts", s.upsertAccount)
	admin.DELETE("/catalog/accounts/:id", s.deleteAccount)
	admin.GET("/orphans", s.listOrphans)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, errorBody{Error: "route not found"})
	})
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(s.allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.allowedOrigins
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Authorization", "Content-Type", idempotencyKeyHeader)
	cfg.AddExposeHeaders("Content-Length", idempotencyReplayHeader)
	return cfg
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if actor := actorFrom(c); actor.Authenticated() {
			entry = entry.WithField("actor", actor.ID)
		}
		if last := c.Errors.Last(); last != nil {
			entry = entry.WithError(last.Err)
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// SplitOrigins разбирает список origin через запятую.
func SplitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
