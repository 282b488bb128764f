package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"giftops/pkg/config"
	"giftops/pkg/errutil"
	"giftops/pkg/health"
	"giftops/pkg/middleware"
	"giftops/services/alliance"
	"giftops/services/giftcode"
	"giftops/services/redemption"
)

var Module = fx.Module("httpapi", fx.Provide(ProvideRouter))

// Handler exposes the operational surface of the engine: code submission,
// manual and batch redemption, progress inspection, rosters, and stats.
type Handler struct {
	queue     *redemption.Queue
	engine    *redemption.Engine
	batches   *redemption.BatchTracker
	stats     *redemption.Stats
	codes     *giftcode.Service
	alliances *alliance.Service
	health    health.HealthService
}

type HandlerParams struct {
	fx.In
	Cfg       *config.Config
	Queue     *redemption.Queue
	Engine    *redemption.Engine
	Batches   *redemption.BatchTracker
	Stats     *redemption.Stats
	Codes     *giftcode.Service
	Alliances *alliance.Service
	Health    health.HealthService
	Registry  *prometheus.Registry
}

// ProvideRouter builds the gin engine with every route mounted.
func ProvideRouter(p HandlerParams) http.Handler {
	h := &Handler{
		queue:     p.Queue,
		engine:    p.Engine,
		batches:   p.Batches,
		stats:     p.Stats,
		codes:     p.Codes,
		alliances: p.Alliances,
		health:    p.Health,
	}

	if p.Cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", h.health.Liveness)
	r.GET("/readyz", h.health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		v1.POST("/codes", h.submitCode)
		v1.GET("/codes", h.listCodes)
		v1.GET("/codes/:code", h.getCode)
		v1.POST("/codes/:code/redeem", h.redeemCode)

		v1.POST("/batches", h.createBatch)
		v1.GET("/batches/:id", h.getBatch)

		v1.GET("/runs", h.listRuns)
		v1.GET("/stats", h.getStats)

		v1.POST("/alliances", h.createAlliance)
		v1.GET("/alliances", h.listAlliances)
		v1.GET("/alliances/:id/members", h.getRoster)
		v1.POST("/alliances/:id/members", h.addMember)
	}

	return r
}

type submitCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) submitCode(c *gin.Context) {
	var req submitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	gc, err := h.queue.SubmitCode(c.Request.Context(), req.Code)
	if err != nil {
		c.Error(errutil.Internal("failed to submit code", errutil.WithErr(err)))
		return
	}
	if gc.ValidationStatus == giftcode.StatusInvalid {
		c.Error(errutil.Conflict("code is invalid and cannot be resubmitted"))
		return
	}
	c.JSON(http.StatusAccepted, gc)
}

func (h *Handler) listCodes(c *gin.Context) {
	list, err := h.codes.List(c.Request.Context())
	if err != nil {
		c.Error(errutil.Internal("failed to list codes", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": list})
}

func (h *Handler) getCode(c *gin.Context) {
	gc, err := h.codes.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, giftcode.ErrNotFound) {
			c.Error(errutil.NotFound("code not found"))
			return
		}
		c.Error(errutil.Internal("failed to load code", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusOK, gc)
}

type redeemRequest struct {
	AllianceIDs []string `json:"alliance_ids"`
}

// redeemCode queues runs of one code. With no alliance_ids the request
// targets every auto-redeem alliance; with more than one it becomes a
// tracked batch.
func (h *Handler) redeemCode(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	gc, err := h.codes.Get(ctx, code)
	if err != nil {
		if errors.Is(err, giftcode.ErrNotFound) {
			c.Error(errutil.NotFound("code not found"))
			return
		}
		c.Error(errutil.Internal("failed to load code", errutil.WithErr(err)))
		return
	}
	if gc.ValidationStatus == giftcode.StatusInvalid {
		c.Error(errutil.Conflict("code is invalid"))
		return
	}

	// An empty body targets every auto-redeem alliance.
	var req redeemRequest
	_ = c.ShouldBindJSON(&req)

	switch len(req.AllianceIDs) {
	case 0:
		if err := h.queue.EnqueueAutoRedemption(ctx, code); err != nil {
			c.Error(errutil.Internal("failed to enqueue auto-redemption", errutil.WithErr(err)))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": code, "mode": "auto"})
	case 1:
		if err := h.queue.EnqueueRedemption(ctx, code, req.AllianceIDs[0]); err != nil {
			c.Error(errutil.Internal("failed to enqueue redemption", errutil.WithErr(err)))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": code, "alliance_id": req.AllianceIDs[0]})
	default:
		batchID, err := h.queue.EnqueueBatch(ctx, []string{code}, req.AllianceIDs)
		if err != nil {
			h.batchError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": code, "batch_id": batchID})
	}
}

type createBatchRequest struct {
	Codes       []string `json:"codes" binding:"required,min=1"`
	AllianceIDs []string `json:"alliance_ids" binding:"required,min=1"`
}

func (h *Handler) createBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	batchID, err := h.queue.EnqueueBatch(c.Request.Context(), req.Codes, req.AllianceIDs)
	if err != nil {
		h.batchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID})
}

func (h *Handler) batchError(c *gin.Context, err error) {
	if errors.Is(err, alliance.ErrNotFound) {
		c.Error(errutil.NotFound("alliance not found"))
		return
	}
	c.Error(errutil.Internal("failed to enqueue batch", errutil.WithErr(err)))
}

func (h *Handler) getBatch(c *gin.Context) {
	snap, ok := h.batches.Snapshot(c.Param("id"))
	if !ok {
		c.Error(errutil.NotFound("batch not found or already finished"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) listRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	runs, err := h.engine.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.Error(errutil.Internal("failed to list runs", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

type createAllianceRequest struct {
	Name       string `json:"name" binding:"required"`
	AutoRedeem bool   `json:"auto_redeem"`
	Priority   int    `json:"priority"`
}

func (h *Handler) createAlliance(c *gin.Context) {
	var req createAllianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	a, err := h.alliances.Create(c.Request.Context(), req.Name, req.AutoRedeem, req.Priority)
	if err != nil {
		c.Error(errutil.Internal("failed to create alliance", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) listAlliances(c *gin.Context) {
	list, err := h.alliances.List(c.Request.Context())
	if err != nil {
		c.Error(errutil.Internal("failed to list alliances", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"alliances": list})
}

func (h *Handler) getRoster(c *gin.Context) {
	if _, err := h.alliances.Get(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, alliance.ErrNotFound) {
			c.Error(errutil.NotFound("alliance not found"))
			return
		}
		c.Error(errutil.Internal("failed to load alliance", errutil.WithErr(err)))
		return
	}

	members, err := h.alliances.GetRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(errutil.Internal("failed to load roster", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addMemberRequest struct {
	FID      string `json:"fid" binding:"required"`
	Nickname string `json:"nickname"`
}

func (h *Handler) addMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	m, err := h.alliances.AddMember(c.Request.Context(), c.Param("id"), req.FID, req.Nickname)
	if err != nil {
		if errors.Is(err, alliance.ErrNotFound) {
			c.Error(errutil.NotFound("alliance not found"))
			return
		}
		c.Error(errutil.Internal("failed to add member", errutil.WithErr(err)))
		return
	}
	c.JSON(http.StatusCreated, m)
}
