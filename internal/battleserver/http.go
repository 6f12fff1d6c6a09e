package battleserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/dice"
)

// HeaderUserID carries the authenticated user id set by the upstream gateway.
const HeaderUserID = "X-User-ID"

const ctxUserID = "userID"

// Handler serves the battle HTTP API.
type Handler struct {
	svc    *Service
	roller *dice.Roller
	logger *zap.Logger
}

// NewHandler creates a Handler for svc. roller serves the table dice route
// and may be nil, in which case the route is not mounted.
func NewHandler(svc *Service, roller *dice.Roller, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, roller: roller, logger: logger}
}

// Register mounts the battle routes under rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.Use(RequireUser())
	rg.POST("/campaigns/:campaignId/battles", h.Create)
	rg.GET("/battles/active", h.ListActive)
	rg.GET("/battles/:battleId", h.Get)
	rg.POST("/battles/:battleId/start", h.Start)
	rg.POST("/battles/:battleId/actions", h.ApplyAction)
	rg.POST("/battles/:battleId/next-turn", h.NextTurn)
	rg.POST("/battles/:battleId/morale", h.MoraleCheck)
	rg.POST("/battles/:battleId/rollback", h.Rollback)
	rg.POST("/battles/:battleId/reset", h.Reset)
	if h.roller != nil {
		rg.POST("/dice", h.RollDice)
	}
}

// NewRouter builds the gin engine: recovery, request metrics, the battle API
// under /api/v1, the metrics endpoint and a liveness route.
func NewRouter(h *Handler, metrics gin.HandlerFunc, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if metrics != nil {
		r.Use(metrics)
	}
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	h.Register(r.Group("/api/v1"))
	return r
}

// RequireUser rejects requests without a user id header and stores the id
// in the gin context.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "missing " + HeaderUserID + " header"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

type moraleRequest struct {
	Roll *int `json:"roll"`
}

type diceRequest struct {
	Expression string `json:"expression"`
}

type diceResponse struct {
	dice.RollResult
	Total int `json:"total"`
}

type rollbackRequest struct {
	ActionIndex *int `json:"actionIndex"`
}

// Create prepares a battle in the path campaign.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	scene, err := h.svc.Create(c.Request.Context(), c.GetString(ctxUserID), c.Param("campaignId"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, scene)
}

// Get returns one battle.
func (h *Handler) Get(c *gin.Context) {
	scene, err := h.svc.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

// ListActive returns the caller's active battles.
func (h *Handler) ListActive(c *gin.Context) {
	refs, err := h.svc.ListActive(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"battles": refs})
}

// Start begins a prepared battle.
func (h *Handler) Start(c *gin.Context) {
	h.respond(c)(h.svc.Start(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId")))
}

// ApplyAction resolves an action in an active battle.
func (h *Handler) ApplyAction(c *gin.Context) {
	var req battle.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	h.respond(c)(h.svc.ApplyAction(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId"), req))
}

// NextTurn advances the turn.
func (h *Handler) NextTurn(c *gin.Context) {
	h.respond(c)(h.svc.NextTurn(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId")))
}

// MoraleCheck applies a morale roll.
func (h *Handler) MoraleCheck(c *gin.Context) {
	var req moraleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Roll == nil {
		h.badRequest(c, "roll is required")
		return
	}
	h.respond(c)(h.svc.MoraleCheck(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId"), *req.Roll))
}

// Rollback rewinds to before the given action.
func (h *Handler) Rollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ActionIndex == nil {
		h.badRequest(c, "actionIndex is required")
		return
	}
	h.respond(c)(h.svc.Rollback(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId"), *req.ActionIndex))
}

// Reset returns a battle to preparation.
func (h *Handler) Reset(c *gin.Context) {
	h.respond(c)(h.svc.Reset(c.Request.Context(), c.GetString(ctxUserID), c.Param("battleId")))
}

// RollDice rolls a dice expression for players without physical dice. The
// result is advisory: battle actions still carry their rolls explicitly.
func (h *Handler) RollDice(c *gin.Context) {
	var req diceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	res, err := h.roller.RollExpr(req.Expression)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, diceResponse{RollResult: res, Total: res.Total()})
}

func (h *Handler) respond(c *gin.Context) func(battle.Scene, error) {
	return func(scene battle.Scene, err error) {
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, scene)
	}
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(battle.KindValidation), "message": msg})
}

// fail writes err as a JSON error body with the status for its kind.
// Errors without a kind are internal and their detail is only logged.
func (h *Handler) fail(c *gin.Context, err error) {
	var be *battle.Error
	if !errors.As(err, &be) {
		h.logger.Error("battle request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal error"})
		return
	}
	c.JSON(StatusFor(be.Kind), gin.H{"error": string(be.Kind), "message": be.Error()})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind battle.Kind) int {
	switch kind {
	case battle.KindNotFound:
		return http.StatusNotFound
	case battle.KindForbidden:
		return http.StatusForbidden
	case battle.KindInvalidState, battle.KindConflict:
		return http.StatusConflict
	case battle.KindValidation, battle.KindNoSnapshot:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
