package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func (s *Server) listItems(c *gin.Context) {
	items, err := s.catalog.ListItems(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newItemResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (s *Server) upsertItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	item, err := s.catalog.UpsertItem(c.Request.Context(), actorFrom(c), req.toDomain())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(item))
}

func (s *Server) deleteItem(c *gin.Context) {
	if err := s.catalog.DeleteItem(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item deleted"})
}

func (s *Server) addLot(c *gin.Context) {
	var req lotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	lot, err := s.catalog.AddLot(c.Request.Context(), actorFrom(c), c.Param("id"), req.UnitCost, req.Units)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lotResponse{
		ID:        lot.ID,
		ItemID:    lot.ItemID,
		UnitCost:  lot.UnitCost,
		Units:     lot.Units,
		CreatedAt: lot.CreatedAt,
	})
}

func (s *Server) deleteLot(c *gin.Context) {
	if err := s.catalog.DeleteLot(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "lot deleted"})
}

func (s *Server) setBundleComponents(c *gin.Context) {
	var req bundleComponentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	bundleID := c.Param("id")
	components := make([]domain.BundleComponent, 0, len(req.Components))
	for _, comp := range req.Components {
		components = append(components, domain.BundleComponent{
			BundleID:    bundleID,
			ComponentID: comp.ComponentID,
			QtyPerUnit:  comp.QtyPerUnit,
		})
	}
	if err := s.catalog.SetBundleComponents(c.Request.Context(), actorFrom(c), bundleID, components); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundle_id": bundleID, "components": len(components)})
}

func (s *Server) upsertAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	account, err := s.catalog.UpsertAccount(c.Request.Context(), actorFrom(c), domain.CreditAccount{
		ID:      req.ID,
		Label:   req.Label,
		Family:  req.Family,
		Balance: req.Balance,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse{
		ID:        account.ID,
		Label:     account.Label,
		Family:    account.Family,
		Balance:   account.Balance,
		UpdatedAt: account.UpdatedAt,
	})
}

func (s *Server) deleteAccount(c *gin.Context) {
	if err := s.catalog.DeleteAccount(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
