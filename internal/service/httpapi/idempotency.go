package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotency-Replayed"
	maxIdempotencyKeyLength = 128
)

// idempotentResult: ответ обработчика, который сохраняется под ключом идемпотентности.
type idempotentResult struct {
	status int
	body   any
}

// withIdempotency выполняет fn не более одного раза на ключ из заголовка Idempotency-Key.
// Повтор с тем же телом получает сохранённый ответ, с другим телом получает 409.
// Без заголовка или без репозитория fn выполняется как обычно.
func (s *Server) withIdempotency(c *gin.Context, rawBody []byte, fn func() idempotentResult) {
	key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if key == "" || s.idempotency == nil {
		res := fn()
		c.JSON(res.status, res.body)
		return
	}
	if len(key) > maxIdempotencyKeyLength {
		c.JSON(http.StatusBadRequest, errorBody{Error: "idempotency key is too long"})
		return
	}

	ctx := c.Request.Context()
	requestHash := domain.HashRequest(actorFrom(c).ID, rawBody)
	_, err := s.idempotency.CreateProcessing(ctx, key, requestHash, s.now().Add(s.idempotencyTTL))
	if err != nil {
		s.replayIdempotency(c, key, requestHash, err)
		return
	}

	res := fn()
	payload, err := json.Marshal(res.body)
	if err != nil {
		writeError(c, err)
		return
	}

	if res.status < http.StatusBadRequest {
		err = s.idempotency.MarkDone(ctx, key, payload, res.status)
	} else {
		err = s.idempotency.MarkFailed(ctx, key, payload, res.status)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	c.Data(res.status, "application/json; charset=utf-8", payload)
}

func (s *Server) replayIdempotency(c *gin.Context, key, requestHash string, createErr error) {
	if errors.Is(createErr, domain.ErrIdempotencyHashMismatch) {
		writeError(c, createErr)
		return
	}
	if !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists) {
		writeError(c, createErr)
		return
	}

	record, err := s.idempotency.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	if record.RequestHash != requestHash {
		writeError(c, domain.ErrIdempotencyHashMismatch)
		return
	}
	if !record.Replayable() {
		c.JSON(http.StatusConflict, errorBody{Error: "request with this idempotency key is still processing"})
		return
	}

	s.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"status":          record.Status,
	}).Debug("replaying idempotent response")
	c.Header(idempotencyReplayHeader, "true")
	c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
}
