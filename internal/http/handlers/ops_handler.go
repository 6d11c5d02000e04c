// Ops HTTP handlers.
//
// This file exposes the operator endpoints of the worker:
//   - GET  /subscriptions/attention   (flagged subscriptions)
//   - POST /subscriptions/{id}/reset  (clear the flag, make due now)
//   - GET  /stats                     (counters and scheduler state)
//   - POST /sweep                     (run one sweep now)
//
// Handlers validate input, call services, and translate results into the
// standard envelopes.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/services"
	"github.com/tbourn/flymate-worker/internal/utils"
)

// maxAttentionLimit bounds the ?limit query of ListAttention.
const maxAttentionLimit = 500

// OpsService is the operator service consumed by the handlers.
type OpsService interface {
	NeedsAttention(ctx context.Context, limit int) ([]domain.Subscription, error)
	Reset(ctx context.Context, id int64) error
	Stats(ctx context.Context) (domain.SubscriptionStats, error)
}

// Sweeper runs sweeps on demand and reports the scheduler state.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
	State() services.State
}

// Handlers groups the ops endpoints.
type Handlers struct {
	ops     OpsService
	sweeper Sweeper
}

// New constructs Handlers. sweeper may be nil, in which case /sweep answers
// 404 and /stats omits the scheduler state.
func New(ops OpsService, sweeper Sweeper) *Handlers {
	return &Handlers{ops: ops, sweeper: sweeper}
}

//
// DTOs
//

// AttentionResponse lists subscriptions that need an operator.
type AttentionResponse struct {
	Subscriptions []domain.Subscription `json:"subscriptions"`
	Count         int                   `json:"count" example:"1"`
}

// StatsResponse extends the subscription counters with scheduler state.
type StatsResponse struct {
	domain.SubscriptionStats
	Scheduler string `json:"scheduler,omitempty" example:"idle"`
}

// SweepResponse reports the outcome of an on-demand sweep.
type SweepResponse struct {
	Due       int   `json:"due" example:"12"`
	Checked   int   `json:"checked" example:"11"`
	Failed    int   `json:"failed" example:"1"`
	Cancelled int   `json:"cancelled" example:"0"`
	Notified  int   `json:"notified" example:"3"`
	Purged    int64 `json:"purged" example:"40"`
}

//
// Handlers
//

// ListAttention godoc
// @ID          listAttention
// @Summary     List flagged subscriptions
// @Description Subscriptions excluded from sweeps after repeated invalid-range failures, most recently checked first.
// @Tags        Subscriptions
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query  int  false  "Max results (default 100)"  minimum(1)  maximum(500)
// @Success     200  {object}  handlers.AttentionResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscriptions/attention [get]
func (h *Handlers) ListAttention(c *gin.Context) {
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 0), 0, maxAttentionLimit)
	subs, err := h.ops.NeedsAttention(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	ok(c, http.StatusOK, AttentionResponse{Subscriptions: subs, Count: len(subs)})
}

// ResetSubscription godoc
// @ID          resetSubscription
// @Summary     Reset a flagged subscription
// @Description Clears the attention flag and failure streak; the subscription is due on the next sweep.
// @Tags        Subscriptions
// @Security    BearerAuth
// @Param       id   path  int  true  "Subscription ID"  minimum(1)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Subscription not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscriptions/{id}/reset [post]
func (h *Handlers) ResetSubscription(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subscription id must be a positive integer")
		return
	}
	if err := h.ops.Reset(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeResetFailed, err.Error())
		return
	}
	noContent(c)
}

// Stats godoc
// @ID          stats
// @Summary     Worker statistics
// @Tags        Ops
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.StatsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.ops.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	resp := StatsResponse{SubscriptionStats: st}
	if h.sweeper != nil {
		resp.Scheduler = h.sweeper.State().String()
	}
	ok(c, http.StatusOK, resp)
}

// Sweep godoc
// @ID          sweep
// @Summary     Run one sweep now
// @Description Runs a sweep synchronously. Returns 409 when a sweep is already running.
// @Tags        Ops
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.SweepResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Scheduler not attached"
// @Failure     409  {object}  handlers.ErrorResponse  "Sweep in progress"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sweep [post]
func (h *Handlers) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "scheduler not attached")
		return
	}
	res, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrSweepInProgress) {
			fail(c, http.StatusConflict, ErrCodeConflict, "sweep already in progress")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSweepFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SweepResponse{
		Due:       res.Due,
		Checked:   res.Checked,
		Failed:    res.Failed,
		Cancelled: res.Cancelled,
		Notified:  res.Notified,
		Purged:    res.Purged,
	})
}
