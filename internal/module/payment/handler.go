package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/shared/logger"
	"github.com/uniedit/paygate/internal/utils/middleware"
	"github.com/uniedit/paygate/internal/utils/pagination"
	"github.com/uniedit/paygate/internal/utils/requestctx"
	"go.uber.org/zap"
)

// Permissions checked by the payment routes.
const (
	PermissionProcess   = "payments.process"
	PermissionRefund    = "payments.refund"
	PermissionReconcile = "payments.reconcile"
	PermissionRead      = "payments.read"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RouteOptions carries the middleware the payment routes run behind. Without
// Auth every permission check fails closed. The others may be nil.
type RouteOptions struct {
	Auth        gin.HandlerFunc
	Idempotency gin.HandlerFunc
	RateLimit   gin.HandlerFunc
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, opts RouteOptions) {
	chain := func(perm string, extra ...gin.HandlerFunc) []gin.HandlerFunc {
		handlers := []gin.HandlerFunc{middleware.RequirePermission(perm)}
		if opts.RateLimit != nil {
			handlers = append(handlers, opts.RateLimit)
		}
		for _, m := range extra {
			if m != nil {
				handlers = append(handlers, m)
			}
		}
		return handlers
	}
	with := func(handlers []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
		return append(handlers, h)
	}

	var groupHandlers []gin.HandlerFunc
	if opts.Auth != nil {
		groupHandlers = append(groupHandlers, opts.Auth)
	}
	payments := r.Group("/payments", groupHandlers...)
	{
		payments.GET("/gateways", with(chain(PermissionRead), h.ListGateways)...)
		payments.POST("/:gateway/initialize", with(chain(PermissionProcess, opts.Idempotency), h.InitializePayment)...)
		payments.GET("/:gateway/verify/:reference", with(chain(PermissionProcess), h.VerifyPayment)...)
		payments.POST("/:gateway/refund", with(chain(PermissionRefund, opts.Idempotency), h.RefundPayment)...)
		payments.POST("/transactions/:reference/reconcile", with(chain(PermissionReconcile), h.ReconcilePayment)...)
		payments.GET("/transactions", with(chain(PermissionRead), h.ListTransactions)...)
		payments.GET("/transactions/:reference", with(chain(PermissionRead), h.GetTransaction)...)
		payments.GET("/stats", with(chain(PermissionRead), h.GetStats)...)
	}
}

// ListGateways returns the configured gateways.
func (h *Handler) ListGateways(c *gin.Context) {
	c.JSON(http.StatusOK, GatewaysResponse{Gateways: h.service.Gateways()})
}

// InitializePayment opens a checkout with the gateway and records it as PENDING.
func (h *Handler) InitializePayment(c *gin.Context) {
	gateway, ok := parseGateway(c)
	if !ok {
		return
	}

	var req InitializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	in, err := req.ToInput()
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	tx, err := h.service.Initialize(c.Request.Context(), gateway, in)
	if err != nil {
		var incomplete *IncompleteInitializationError
		if errors.As(err, &incomplete) {
			// The checkout exists at the provider and the record will be
			// recovered, so the client can proceed.
			c.JSON(http.StatusAccepted, InitializePaymentResponse{
				Reference:        incomplete.Reference,
				Gateway:          string(gateway),
				AuthorizationURL: incomplete.AuthorizationURL,
				AccessCode:       incomplete.AccessCode,
				Status:           domain.StatusPending,
				Recorded:         false,
			})
			return
		}
		handlePaymentError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("payment initialized",
		zap.String("gateway", string(gateway)),
		zap.String("reference", tx.Reference),
	)
	c.JSON(http.StatusCreated, InitializePaymentResponse{
		Reference:        tx.Reference,
		Gateway:          string(tx.Gateway),
		AuthorizationURL: tx.AuthorizationURL,
		AccessCode:       tx.AccessCode,
		Status:           tx.Status,
		Recorded:         true,
	})
}

// VerifyPayment asks the gateway for the payment's state and applies it.
func (h *Handler) VerifyPayment(c *gin.Context) {
	gateway, ok := parseGateway(c)
	if !ok {
		return
	}

	out, err := h.service.Verify(c.Request.Context(), gateway, c.Param("reference"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, newVerifyPaymentResponse(out))
}

// RefundPayment refunds a completed payment in full or in part.
func (h *Handler) RefundPayment(c *gin.Context) {
	gateway, ok := parseGateway(c)
	if !ok {
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	tx, err := h.service.Get(ctx, req.Reference)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	in, err := req.ToInput(tx.Currency)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	refunded, err := h.service.Refund(ctx, gateway, in)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	logger.FromContext(ctx).Info("payment refunded",
		zap.String("gateway", string(gateway)),
		zap.String("reference", refunded.Reference),
		zap.Stringer("amount", refunded.RefundedAmount),
	)
	c.JSON(http.StatusOK, NewTransactionResponse(refunded))
}

// ReconcilePayment marks a completed payment as reconciled by the caller.
func (h *Handler) ReconcilePayment(c *gin.Context) {
	ctx := c.Request.Context()
	tx, err := h.service.Reconcile(ctx, c.Param("reference"), requestctx.Subject(ctx))
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewTransactionResponse(tx))
}

// GetTransaction returns one ledger record.
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewTransactionResponse(tx))
}

// ListTransactions returns a filtered page of ledger records, newest first.
func (h *Handler) ListTransactions(c *gin.Context) {
	var q ListTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindError(c, err)
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	txs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	info := q.Info(len(txs))
	txs = pagination.Trim(&q.Pagination, txs)
	items := make([]*TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		items = append(items, NewTransactionResponse(tx))
	}
	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: items, Pagination: info})
}

// GetStats returns ledger aggregates.
func (h *Handler) GetStats(c *gin.Context) {
	var q StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindError(c, err)
		return
	}

	filter := domain.StatsFilter{}
	if q.VendorID != "" {
		filter.VendorID = &q.VendorID
	}
	if q.Currency != "" {
		currency, err := domain.NormalizeCurrency(q.Currency)
		if err != nil {
			handlePaymentError(c, err)
			return
		}
		filter.Currency = currency
	}

	stats, err := h.service.Stats(c.Request.Context(), filter)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewStatsResponse(stats, filter.Currency))
}

// parseGateway resolves the :gateway path parameter and writes a 400 when it
// names no known gateway.
func parseGateway(c *gin.Context) (domain.Gateway, bool) {
	raw := c.Param("gateway")
	gateway, ok := domain.ParseGateway(raw)
	if !ok {
		handlePaymentError(c, &domain.UnsupportedGatewayError{Gateway: raw})
		return "", false
	}
	return gateway, true
}
