// Package router exposes the buyer-facing HTTP API and the card processor
// webhook.
package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/config"
	"nftstore/internal/middleware"
	"nftstore/internal/model"
	"nftstore/internal/order"
	"nftstore/internal/payment"
	"nftstore/internal/repository"
	rediskey "nftstore/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	idempotencyTTL  = 24 * time.Hour
	webhookSeenTTL  = 72 * time.Hour
	cartCookie      = "cart_session"
	signatureHeader = "Stripe-Signature"
)

// WebhookParser verifies and decodes a card processor notification.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payment.WebhookEvent, error)
}

type Deps struct {
	DB       *gorm.DB
	Redis    *rd.Client
	Orders   *order.Manager
	Payments *payment.Orchestrator
	// Webhooks is nil when the card provider is disabled.
	Webhooks WebhookParser
	Config   config.AppConfig
}

type handlers struct {
	Deps
	users repository.UserRepository
}

// Setup registers every HTTP route.
func Setup(r *gin.Engine, d Deps) {
	h := &handlers{Deps: d, users: repository.NewUserRepository(d.DB)}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.POST("/webhooks/card", h.cardWebhook)

	api := r.Group("/api", middleware.JWTAuth([]byte(d.Config.JWTSecret)))
	api.GET("/cart", h.listCart)
	api.POST("/cart/items", h.addToCart)
	api.DELETE("/cart/items/:item_id", h.removeFromCart)
	api.POST("/payments",
		middleware.RedisRateLimit(d.Redis, d.Config.CreatePaymentRateLimit, d.Config.CreatePaymentRateWindow),
		h.createPayment)
	api.POST("/payments/:payment_id/promise", h.promisePaid)
	api.GET("/orders/:payment_id", h.orderInfo)
}

// statusOf maps an error kind onto the HTTP status reported to clients.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.BadRequest, apperr.InvalidState:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.JSON(code, gin.H{"code": code, "msg": msg})
}

func (h *handlers) currentUser(c *gin.Context) (*model.User, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "not authenticated"})
		return nil, false
	}
	u, err := h.users.FindByID(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "unknown user"})
		return nil, false
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return u, true
}

// cartSessionKey reuses the client's cart cookie or hands out a new one.
func cartSessionKey(c *gin.Context) string {
	if key, err := c.Cookie(cartCookie); err == nil && key != "" {
		return key
	}
	key := uuid.NewString()
	c.SetCookie(cartCookie, key, 0, "/", "", false, true)
	return key
}

func (h *handlers) listCart(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	items, err := h.Orders.ListCart(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": items})
}

func (h *handlers) addToCart(c *gin.Context) {
	var req struct {
		ItemID uint64 `json:"item_id" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.Orders.AddToCart(c.Request.Context(), uid, cartSessionKey(c), req.ItemID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "added"})
}

func (h *handlers) removeFromCart(c *gin.Context) {
	itemID, err := strconv.ParseUint(c.Param("item_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid item id"})
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.Orders.RemoveFromCart(c.Request.Context(), uid, itemID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "removed"})
}

// createPayment opens a payment intent. A repeated Idempotency-Key replays
// the first successful reply instead of opening another intent.
func (h *handlers) createPayment(c *gin.Context) {
	var req struct {
		Provider      model.PaymentProvider `json:"provider" binding:"required"`
		Currency      string                `json:"currency"`
		RecreateOrder bool                  `json:"recreate_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = h.Config.BaseCurrency
	}
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var idemKey string
	if k := c.GetHeader("Idempotency-Key"); k != "" {
		idemKey = rediskey.PaymentIdempotencyKey(u.ID, k)
		state, started, err := rediskey.BeginRequest(ctx, h.Redis, idemKey, idempotencyTTL)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "idempotency store unavailable", "user_id", u.ID, "error", err)
			idemKey = ""
		case !started && state.Status == rediskey.RequestSuccess:
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(state.Response))
			return
		case !started:
			c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "a request with this idempotency key is in progress"})
			return
		}
	}

	intent, err := h.Payments.CreatePayment(ctx, payment.CreateRequest{
		User:           *u,
		CartSessionKey: cartSessionKey(c),
		Provider:       req.Provider,
		Currency:       req.Currency,
		ClientIP:       c.ClientIP(),
		RecreateOrder:  req.RecreateOrder,
	})
	if err != nil {
		if idemKey != "" {
			if ferr := rediskey.ForgetRequest(ctx, h.Redis, idemKey); ferr != nil {
				slog.WarnContext(ctx, "failed to release idempotency key", "user_id", u.ID, "error", ferr)
			}
		}
		writeError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"code": 0, "data": intent})
	if err != nil {
		writeError(c, err)
		return
	}
	if idemKey != "" {
		if err := rediskey.PutRequestState(ctx, h.Redis, idemKey, rediskey.RequestSuccess, intent.PaymentID, string(body), idempotencyTTL); err != nil {
			slog.WarnContext(ctx, "failed to record idempotent reply", "user_id", u.ID, "payment_id", intent.PaymentID, "error", err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *handlers) promisePaid(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	if err := h.Payments.PromiseToPay(c.Request.Context(), uid, c.Param("payment_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
}

func (h *handlers) orderInfo(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	info, err := h.Payments.GetOrderInfo(c.Request.Context(), uid, c.Param("payment_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": info})
}

// cardWebhook applies a card processor event. Each event id is handled once;
// a failed attempt is forgotten so the processor's retry gets through.
func (h *handlers) cardWebhook(c *gin.Context) {
	if h.Webhooks == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"code": 501, "msg": "card payments are disabled"})
		return
	}
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "unreadable body"})
		return
	}
	ev, err := h.Webhooks.ParseWebhook(payload, c.GetHeader(signatureHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()

	seenKey := rediskey.WebhookEventKey(ev.ID)
	first, err := rediskey.MarkOnce(ctx, h.Redis, seenKey, webhookSeenTTL)
	if err != nil {
		slog.WarnContext(ctx, "webhook dedupe unavailable", "event_id", ev.ID, "error", err)
		first = true
		seenKey = ""
	}
	if !first {
		slog.InfoContext(ctx, "duplicate webhook event", "event_id", ev.ID, "event_type", ev.Type)
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "duplicate"})
		return
	}

	if err := h.Payments.HandleWebhook(ctx, ev); err != nil {
		if seenKey != "" {
			if uerr := rediskey.Unmark(ctx, h.Redis, seenKey); uerr != nil {
				slog.WarnContext(ctx, "failed to forget webhook event", "event_id", ev.ID, "error", uerr)
			}
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
}
