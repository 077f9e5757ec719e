package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const maxListLimit = 500

func (s *Server) createOrder(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeBindError(c, err)
		return
	}
	var req createOrderRequest
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		writeBindError(c, err)
		return
	}

	actor := actorFrom(c)
	s.withIdempotency(c, raw, func() idempotentResult {
		result, err := s.engine.Create(c.Request.Context(), actor, req.toDomain())
		if err != nil {
			status := statusFor(err, http.StatusBadRequest)
			_ = c.Error(err)
			return idempotentResult{status: status, body: errorPayload(err, status)}
		}
		return idempotentResult{
			status: http.StatusOK,
			body:   createOrderResponse{OrderID: result.OrderID, Total: result.Total},
		}
	})
}

func (s *Server) deleteOrder(c *gin.Context) {
	if err := s.engine.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := newOrderResponse(order)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listOrders(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	orders, err := s.engine.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp, err := newOrderResponse(order)
		if err != nil {
			writeError(c, err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) listCreditAccounts(c *gin.Context) {
	minBalance := decimal.Zero
	if raw := c.Query("min_balance"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			c.JSON(http.StatusBadRequest, errorBody{Error: "min_balance must be a non-negative decimal"})
			return
		}
		minBalance = parsed
	}
	accounts, err := s.engine.AvailableAccounts(c.Request.Context(), c.Query("family"), minBalance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": newAccountBalances(accounts)})
}

func (s *Server) bundleStock(c *gin.Context) {
	bundleID := c.Param("id")
	effective, err := s.engine.EffectiveStock(c.Request.Context(), bundleID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundleStockResponse{
		BundleID:       bundleID,
		EffectiveStock: effective,
		Unlimited:      effective == domain.UnlimitedStock,
	})
}

func (s *Server) listOrphans(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	orphans, err := s.engine.ListOrphans(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orphans": newOrphanResponses(orphans)})
}

// queryLimit читает ?limit=. Ноль означает лимит по умолчанию движка.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > maxListLimit {
		c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be an integer between 0 and " + strconv.Itoa(maxListLimit)})
		return 0, false
	}
	return limit, true
}
