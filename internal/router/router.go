package router

import (
	"net/http"

	"github.com/blues/greensalary/internal/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers are built by the caller so that tests can wire fakes.
type Handlers struct {
	Payment    *handler.PaymentHandler
	Influencer *handler.InfluencerHandler
	Advertiser *handler.AdvertiserHandler
	Admin      *handler.AdminHandler
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func Setup(h Handlers) *gin.Engine {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "greensalary",
		})
	})
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	if h.Payment != nil {
		payment := api.Group("/payment", handler.RequireRole(handler.RoleAdmin))
		{
			payment.POST("/auto-pay", h.Payment.AutoPay)
			payment.POST("/manual-auto-pay", h.Payment.AutoPay)
			payment.POST("/pay-individual", h.Payment.PayIndividual)
			payment.POST("/contracts/:contractId/refund", h.Payment.RefundContract)
			payment.GET("/contracts/:contractId/status", h.Payment.ContractStatus)
			payment.GET("/blockchain/status", h.Payment.BlockchainStatus)
			payment.GET("/contract/balance", h.Payment.ContractBalance)
			payment.GET("/ads/:adId", h.Payment.AdInfo)
			payment.GET("/influencer-info", h.Payment.InfluencerInfo)
			payment.GET("/events/status", h.Payment.EventStatus)
			payment.GET("/scheduler/status", h.Payment.SchedulerStatus)
			payment.POST("/scheduler/stop", h.Payment.SchedulerStop)
			payment.POST("/scheduler/start", h.Payment.SchedulerStart)
		}
	}

	if h.Influencer != nil {
		influencer := api.Group("/influencer", handler.RequireRole(handler.RoleInfluencer))
		{
			influencer.POST("/contract/code", h.Influencer.InputCode)
			influencer.GET("/contract", h.Influencer.ReadContracts)
			influencer.GET("/contract/:contractId", h.Influencer.ReadContract)
			influencer.POST("/contract/:contractId/join", h.Influencer.JoinContract)
			influencer.POST("/contract/:contractId/url", h.Influencer.InputURL)
			influencer.GET("/contract/:contractId/url", h.Influencer.ReadURL)
			influencer.POST("/ask/:joinId", h.Influencer.Ask)
		}
	}

	if h.Advertiser != nil {
		advertiser := api.Group("/advertiser", handler.RequireRole(handler.RoleAdvertiser))
		{
			advertiser.POST("/contract", h.Advertiser.CreateContract)
			advertiser.GET("/contract", h.Advertiser.ReadContracts)
			advertiser.GET("/contract/:contractId", h.Advertiser.ReadContract)
			advertiser.GET("/contract/:contractId/influencers", h.Advertiser.ReadInfluencers)
			advertiser.GET("/contract/:contractId/payments", h.Advertiser.ReadPayments)
			advertiser.POST("/ask/:joinId", h.Advertiser.Ask)
		}
	}

	if h.Admin != nil {
		admin := api.Group("/admin", handler.RequireRole(handler.RoleAdmin))
		{
			admin.GET("/ask", h.Admin.ReadAsks)
			admin.GET("/ask/:askId", h.Admin.ReadAsk)
			admin.POST("/ask/:askId/approve", h.Admin.ApproveAsk)
			admin.POST("/ask/:askId/reject", h.Admin.RejectAsk)
		}
	}

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+
			handler.HeaderUserId+", "+handler.HeaderUserRole)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
