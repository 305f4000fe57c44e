package handler

import (
	"net/http"

	"github.com/blues/greensalary/internal/logic"
	"github.com/gin-gonic/gin"
)

type AdvertiserHandler struct {
	contracts  *logic.ContractLogic
	advertiser *logic.AdvertiserLogic
}

func NewAdvertiserHandler(contracts *logic.ContractLogic, advertiser *logic.AdvertiserLogic) *AdvertiserHandler {
	return &AdvertiserHandler{contracts: contracts, advertiser: advertiser}
}

func (h *AdvertiserHandler) CreateContract(c *gin.Context) {
	var req logic.CreateContractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	contract, err := h.contracts.CreateContract(c.Request.Context(), userId(c), &req)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "contract created", gin.H{
		"id":         contract.Id,
		"accessCode": contract.AccessCode,
	})
}

func (h *AdvertiserHandler) ReadContracts(c *gin.Context) {
	list, err := h.contracts.ListAdvertiserContracts(c.Request.Context(), userId(c),
		c.DefaultQuery("status", "all"), c.DefaultQuery("sort", "latest"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"contracts": list})
}

func (h *AdvertiserHandler) ReadContract(c *gin.Context) {
	contract, err := h.contracts.GetAdvertiserContract(c.Request.Context(), userId(c), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", contract)
}

func (h *AdvertiserHandler) ReadInfluencers(c *gin.Context) {
	list, err := h.advertiser.ListParticipants(c.Request.Context(), userId(c), c.Param("contractId"),
		c.DefaultQuery("status", "ALL"), c.DefaultQuery("sort", "latest"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", list)
}

func (h *AdvertiserHandler) ReadPayments(c *gin.Context) {
	txs, err := h.contracts.ListPayments(c.Request.Context(), userId(c), c.Param("contractId"),
		c.DefaultQuery("sort", "latest"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"payments": txs})
}

func (h *AdvertiserHandler) Ask(c *gin.Context) {
	joinId, ok := paramInt64(c, "joinId")
	if !ok {
		return
	}
	next, err := h.advertiser.Ask(c.Request.Context(), userId(c), joinId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "review requested", gin.H{"new_status": next})
}
