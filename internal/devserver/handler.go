// Package devserver emulates the Prism enclave and tracking API for local
// development and end-to-end tests.
package devserver

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/encrypt"
)

type auctionRequest struct {
	PublisherAddress string `json:"publisher_address" binding:"required"`
	UserAddress      string `json:"user_address" binding:"required"`
	PublisherDomain  string `json:"publisher_domain" binding:"required"`
}

type trackingRequest struct {
	PublisherAddress string `json:"publisherAddress" binding:"required"`
	WebsiteURL       string `json:"websiteUrl"`
	CampaignID       string `json:"campaignId" binding:"required"`
}

// Handler serves the enclave and tracking routes.
type Handler struct {
	campaigns []Campaign
	key       *rsa.PrivateKey
	issuer    *Issuer
	ledger    *Ledger
	dedupTTL  time.Duration
	events    *prometheus.CounterVec
	log       *zap.Logger
}

// Options configure a Handler. Key may be nil, in which case user_address is
// treated as opaque and not decrypted.
type Options struct {
	Campaigns  []Campaign
	Key        *rsa.PrivateKey
	Issuer     *Issuer
	Ledger     *Ledger
	Registerer prometheus.Registerer
	Log        *zap.Logger
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Issuer == nil || opts.Ledger == nil {
		return nil, errors.New("devserver: issuer and ledger are required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_devserver_events_total",
		Help: "Emulator requests by route and outcome.",
	}, []string{"event", "result"})
	if opts.Registerer != nil {
		if err := opts.Registerer.Register(events); err != nil {
			return nil, err
		}
	}
	campaigns := opts.Campaigns
	if campaigns == nil {
		campaigns = DefaultCampaigns
	}
	return &Handler{
		campaigns: campaigns,
		key:       opts.Key,
		issuer:    opts.Issuer,
		ledger:    opts.Ledger,
		dedupTTL:  opts.Issuer.ttl,
		events:    events,
		log:       log,
	}, nil
}

// Register mounts the enclave and tracking routes. /click is the legacy
// spelling of /clicks.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/auction", h.handleAuction)

	tracked := r.Group("", BearerAuth(h.issuer))
	tracked.POST("/clicks", h.handleClick)
	tracked.POST("/click", h.handleClick)
	tracked.POST("/impressions", h.handleImpression)

	r.GET("/stats", h.handleAllStats)
	r.GET("/stats/:campaignId", h.handleStats)
}

// NewRouter builds the full emulator engine. A nil gatherer omits /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	h.Register(r)
	return r
}

// ── Auction ─────────────────────────────────────────────────────────────────

func (h *Handler) handleAuction(c *gin.Context) {
	var req auctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.events.WithLabelValues("auction", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid auction request"})
		return
	}

	wallet := req.UserAddress
	if h.key != nil {
		plain, err := encrypt.Decrypt(req.UserAddress, h.key)
		if err != nil {
			h.events.WithLabelValues("auction", "bad_ciphertext").Inc()
			h.log.Warn("auction: decrypt user address", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "cannot decrypt user_address"})
			return
		}
		wallet = plain
	}

	camp, ok := Select(h.campaigns, req.PublisherAddress, req.PublisherDomain, wallet)
	if !ok {
		h.events.WithLabelValues("auction", "no_campaign").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "no eligible campaigns"})
		return
	}

	token, err := h.issuer.Issue(camp.ID, req.PublisherAddress, req.PublisherDomain)
	if err != nil {
		h.events.WithLabelValues("auction", "error").Inc()
		h.log.Error("auction: issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	if err := h.ledger.RecordAuction(c.Request.Context(), camp.ID); err != nil {
		h.log.Warn("auction: ledger", zap.String("campaign", camp.ID), zap.Error(err))
	}

	h.events.WithLabelValues("auction", "success").Inc()
	h.log.Info("auction won",
		zap.String("publisher", req.PublisherAddress),
		zap.String("domain", req.PublisherDomain),
		zap.String("campaign", camp.ID),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "auction completed",
		"data": gin.H{
			"campaignId":    camp.ID,
			"bannerIpfsUri": camp.BannerURI,
			"url":           camp.URL,
			"campaignName":  camp.Name,
			"jwt_token":     token,
		},
	})
}

// ── Tracking ────────────────────────────────────────────────────────────────

// bindTracking decodes the body and checks it against the token. It writes
// the error response itself and returns nil on failure.
func (h *Handler) bindTracking(c *gin.Context, event string) (*trackingRequest, *Claims) {
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.events.WithLabelValues(event, "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, nil
	}
	claims := claimsFrom(c)
	if claims == nil || claims.CampaignID != req.CampaignID {
		h.events.WithLabelValues(event, "forbidden").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "token not issued for this campaign"})
		return nil, nil
	}
	if _, ok := find(h.campaigns, req.CampaignID); !ok {
		h.events.WithLabelValues(event, "unknown_campaign").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown campaign"})
		return nil, nil
	}
	return &req, claims
}

func (h *Handler) handleClick(c *gin.Context) {
	req, _ := h.bindTracking(c, "click")
	if req == nil {
		return
	}
	if err := h.ledger.RecordClick(c.Request.Context(), req.CampaignID); err != nil {
		h.events.WithLabelValues("click", "error").Inc()
		h.log.Error("click: ledger", zap.String("campaign", req.CampaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.events.WithLabelValues("click", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "success", "message": "click recorded"}})
}

func (h *Handler) handleImpression(c *gin.Context) {
	req, claims := h.bindTracking(c, "impression")
	if req == nil {
		return
	}
	first, err := h.ledger.RecordImpression(c.Request.Context(), req.CampaignID, claims.ID, h.dedupTTL)
	if err != nil {
		h.events.WithLabelValues("impression", "error").Inc()
		h.log.Error("impression: ledger", zap.String("campaign", req.CampaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !first {
		h.events.WithLabelValues("impression", "duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "duplicate", "message": "impression already recorded"}})
		return
	}
	h.events.WithLabelValues("impression", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "success", "message": "impression recorded"}})
}

// ── Stats ───────────────────────────────────────────────────────────────────

func (h *Handler) handleStats(c *gin.Context) {
	s, err := h.ledger.GetStats(c.Request.Context(), c.Param("campaignId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no activity for campaign"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) handleAllStats(c *gin.Context) {
	all, err := h.ledger.ScanAllStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if all == nil {
		all = []Stats{}
	}
	c.JSON(http.StatusOK, all)
}
