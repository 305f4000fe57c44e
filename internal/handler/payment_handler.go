package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/monitor"
	"github.com/blues/greensalary/internal/scheduler"
	"github.com/blues/greensalary/internal/settlement"
	"github.com/gin-gonic/gin"
)

type Settler interface {
	PayIndividualInfluencer(ctx context.Context, influencerId int64, contractId string) (*settlement.PaymentOutcome, error)
	ProcessContractRefund(ctx context.Context, contractId string) (*settlement.RefundOutcome, error)
	ContractPaymentStatus(ctx context.Context, contractId string) (*settlement.PaymentStatus, error)
}

type RunController interface {
	RunManually(ctx context.Context) (*settlement.RunResult, error)
	Status() scheduler.Status
	StopAll()
	StartAll() error
}

// ChainReader is the read side of the chain client.
type ChainReader interface {
	GetStatus(ctx context.Context) *chain.Status
	GetContractBalance(ctx context.Context) (*chain.Balance, error)
	GetAdInfo(ctx context.Context, adId int64) (*chain.AdInfo, error)
	GetInfluencerInfo(ctx context.Context, adId int64, wallet string) (*chain.InfluencerInfo, error)
}

type EventMonitor interface {
	Status(ctx context.Context) (*monitor.Status, error)
}

type PaymentHandler struct {
	settler Settler
	runs    RunController
	chain   ChainReader
	events  EventMonitor
}

// NewPaymentHandler accepts a nil chain when the node is unreachable at
// startup; chain endpoints then answer 503.
func NewPaymentHandler(settler Settler, runs RunController, chain ChainReader) *PaymentHandler {
	return &PaymentHandler{settler: settler, runs: runs, chain: chain}
}

// WithEventMonitor enables the escrow event status endpoint.
func (h *PaymentHandler) WithEventMonitor(m EventMonitor) *PaymentHandler {
	h.events = m
	return h
}

// AutoPay runs a settlement sweep now. Partial failures are itemized in a
// 200 response; 409 means another sweep holds the run guard.
func (h *PaymentHandler) AutoPay(c *gin.Context) {
	result, err := h.runs.RunManually(c.Request.Context())
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result.Message, result)
}

type payIndividualRequest struct {
	InfluencerId int64  `json:"influencerId" binding:"required"`
	ContractId   string `json:"contractId" binding:"required"`
}

func (h *PaymentHandler) PayIndividual(c *gin.Context) {
	var req payIndividualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "influencerId and contractId are required")
		return
	}

	outcome, err := h.settler.PayIndividualInfluencer(c.Request.Context(), req.InfluencerId, req.ContractId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	if outcome.Status != settlement.StatusSuccess {
		c.JSON(http.StatusOK, Response{Success: false, Message: "payment " + outcome.Status, Data: outcome})
		return
	}
	SuccessResponse(c, http.StatusOK, "payment completed", outcome)
}

func (h *PaymentHandler) RefundContract(c *gin.Context) {
	outcome, err := h.settler.ProcessContractRefund(c.Request.Context(), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	if outcome.Status != settlement.StatusSuccess {
		c.JSON(http.StatusOK, Response{Success: false, Message: "refund " + outcome.Status, Data: outcome})
		return
	}
	SuccessResponse(c, http.StatusOK, "refund completed", outcome)
}

func (h *PaymentHandler) ContractStatus(c *gin.Context) {
	status, err := h.settler.ContractPaymentStatus(c.Request.Context(), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", status)
}

func (h *PaymentHandler) chainReady(c *gin.Context) bool {
	if h.chain == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "blockchain not connected")
		return false
	}
	return true
}

func (h *PaymentHandler) BlockchainStatus(c *gin.Context) {
	if !h.chainReady(c) {
		return
	}
	status := h.chain.GetStatus(c.Request.Context())
	if !status.Connected {
		c.JSON(http.StatusOK, Response{Success: false, Message: status.Error, Data: status})
		return
	}
	SuccessResponse(c, http.StatusOK, "", status)
}

func (h *PaymentHandler) ContractBalance(c *gin.Context) {
	if !h.chainReady(c) {
		return
	}
	balance, err := h.chain.GetContractBalance(c.Request.Context())
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", balance)
}

func (h *PaymentHandler) AdInfo(c *gin.Context) {
	adId, ok := paramInt64(c, "adId")
	if !ok || !h.chainReady(c) {
		return
	}
	info, err := h.chain.GetAdInfo(c.Request.Context(), adId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", info)
}

func (h *PaymentHandler) InfluencerInfo(c *gin.Context) {
	adId, err := strconv.ParseInt(c.Query("adId"), 10, 64)
	wallet := c.Query("wallet")
	if err != nil || wallet == "" {
		errorFrom(c, apperr.Validation("adId and wallet query parameters are required"))
		return
	}
	if !h.chainReady(c) {
		return
	}
	info, err := h.chain.GetInfluencerInfo(c.Request.Context(), adId, wallet)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", info)
}

func (h *PaymentHandler) SchedulerStatus(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "", h.runs.Status())
}

func (h *PaymentHandler) SchedulerStop(c *gin.Context) {
	h.runs.StopAll()
	SuccessResponse(c, http.StatusOK, "scheduled jobs stopped", h.runs.Status())
}

func (h *PaymentHandler) SchedulerStart(c *gin.Context) {
	if err := h.runs.StartAll(); err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "scheduled jobs started", h.runs.Status())
}

func (h *PaymentHandler) EventStatus(c *gin.Context) {
	if h.events == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "event monitor disabled")
		return
	}
	status, err := h.events.Status(c.Request.Context())
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", status)
}
