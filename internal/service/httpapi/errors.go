package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Item      string `json:"item,omitempty"`
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
// notFound задаёт статус для отсутствующей сущности: при создании заказа это ошибка запроса,
// при чтении или удалении заказа это 404.
func statusFor(err error, notFound int) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return notFound
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrMissingParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorPayload(err error, status int) errorBody {
	if status == http.StatusInternalServerError {
		return errorBody{Error: "internal error"}
	}
	body := errorBody{Error: err.Error()}
	var shortfall *domain.ShortfallError
	if errors.As(err, &shortfall) {
		body.Item = shortfall.Item
		body.Available = shortfall.Available
		body.Requested = shortfall.Requested
	}
	return body
}

func writeError(c *gin.Context, err error) {
	writeErrorStatus(c, err, statusFor(err, http.StatusNotFound))
}

func writeErrorStatus(c *gin.Context, err error, status int) {
	_ = c.Error(err)
	c.JSON(status, errorPayload(err, status))
}

func writeBindError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, errorBody{Error: validationMessage(err)})
}
