package handler

import (
	"net/http"

	"github.com/blues/greensalary/internal/logic"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	asks *logic.AskLogic
}

func NewAdminHandler(asks *logic.AskLogic) *AdminHandler {
	return &AdminHandler{asks: asks}
}

func (h *AdminHandler) ReadAsks(c *gin.Context) {
	list, err := h.asks.ListAsks(c.Request.Context(), c.DefaultQuery("asker", "all"), c.DefaultQuery("sort", "latest"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", list)
}

func (h *AdminHandler) ReadAsk(c *gin.Context) {
	askId, ok := paramInt64(c, "askId")
	if !ok {
		return
	}
	ask, err := h.asks.GetAsk(c.Request.Context(), askId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", ask)
}

func (h *AdminHandler) ApproveAsk(c *gin.Context) {
	askId, ok := paramInt64(c, "askId")
	if !ok {
		return
	}
	next, err := h.asks.Approve(c.Request.Context(), askId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ask approved", gin.H{"new_status": next})
}

func (h *AdminHandler) RejectAsk(c *gin.Context) {
	askId, ok := paramInt64(c, "askId")
	if !ok {
		return
	}
	next, err := h.asks.Reject(c.Request.Context(), askId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ask rejected", gin.H{"new_status": next})
}
