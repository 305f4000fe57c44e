package handler

import (
	"context"
	"net/http"

	"github.com/blues/greensalary/internal/logic"
	"github.com/blues/greensalary/internal/model"
	"github.com/gin-gonic/gin"
)

// Submitter queues a submitted URL for AI analysis.
type Submitter interface {
	Submit(ctx context.Context, contractId string, influencerId int64, rawURL string) (*model.AnalysisJob, error)
}

type InfluencerHandler struct {
	logic    *logic.InfluencerLogic
	analysis Submitter
}

func NewInfluencerHandler(l *logic.InfluencerLogic, analysis Submitter) *InfluencerHandler {
	return &InfluencerHandler{logic: l, analysis: analysis}
}

type accessCodeRequest struct {
	AccessCode string `json:"accessCode" binding:"required"`
}

func (h *InfluencerHandler) InputCode(c *gin.Context) {
	var req accessCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "accessCode is required")
		return
	}
	contract, err := h.logic.RedeemCode(c.Request.Context(), userId(c), req.AccessCode)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", contract)
}

func (h *InfluencerHandler) ReadContract(c *gin.Context) {
	contract, err := h.logic.GetContract(c.Request.Context(), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", contract)
}

func (h *InfluencerHandler) JoinContract(c *gin.Context) {
	p, err := h.logic.JoinContract(c.Request.Context(), userId(c), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "joined contract", gin.H{"joinId": p.Id})
}

func (h *InfluencerHandler) ReadContracts(c *gin.Context) {
	list, err := h.logic.ListContracts(c.Request.Context(), userId(c),
		c.DefaultQuery("status", "ALL"), c.DefaultQuery("sort", "deadline"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"contracts": list})
}

type urlRequest struct {
	Url string `json:"url" binding:"required"`
}

// InputURL accepts the submission and answers before the analysis runs.
func (h *InfluencerHandler) InputURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "url is required")
		return
	}
	job, err := h.analysis.Submit(c.Request.Context(), c.Param("contractId"), userId(c), req.Url)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusAccepted, "URL submitted, AI analysis in progress", gin.H{"jobId": job.JobId})
}

func (h *InfluencerHandler) ReadURL(c *gin.Context) {
	sub, err := h.logic.GetSubmission(c.Request.Context(), userId(c), c.Param("contractId"))
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", sub)
}

func (h *InfluencerHandler) Ask(c *gin.Context) {
	joinId, ok := paramInt64(c, "joinId")
	if !ok {
		return
	}
	next, err := h.logic.Ask(c.Request.Context(), userId(c), joinId)
	if err != nil {
		errorFrom(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "review requested", gin.H{"new_status": next})
}
