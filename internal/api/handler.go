// Package api exposes the voucher lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-voucher-escrow/internal/auth"
	"github.com/0gfoundation/0g-voucher-escrow/internal/escrow"
	"github.com/0gfoundation/0g-voucher-escrow/internal/voucher"
)

// Signed actions, as they must appear in the signed message.
const (
	ActionCreate = "create_vouchers"
	ActionCancel = "cancel_voucher"
	ActionRedeem = "redeem_voucher"
)

// Lifecycle is satisfied by escrow.Engine.
type Lifecycle interface {
	CreateVouchers(ctx context.Context, req escrow.CreateRequest) ([]voucher.Voucher, error)
	CancelVoucher(ctx context.Context, owner, id string) (*uint256.Int, error)
	RedeemVoucher(ctx context.Context, owner, secret, id, claimant string) (*uint256.Int, error)
	ListVouchers(ctx context.Context, owner string) ([]voucher.Voucher, error)
	VoucherInfo(ctx context.Context, id, owner string) (*escrow.Info, error)
}

type Handler struct {
	engine Lifecycle
	log    *zap.Logger
}

func NewHandler(engine Lifecycle, log *zap.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// Register mounts the routes under /api. Reads are public; every mutation
// must carry a wallet signature for its action.
func (h *Handler) Register(rg *gin.RouterGroup, v *auth.Verifier) {
	// ── Queries ────────────────────────────────────────────────────────────
	rg.GET("/owners/:owner/vouchers", h.handleList)
	rg.GET("/owners/:owner/vouchers/:id", h.handleInfo)

	// ── Owner actions ──────────────────────────────────────────────────────
	rg.POST("/vouchers", v.Require(ActionCreate), h.handleCreate)
	rg.DELETE("/vouchers/:id", v.Require(ActionCancel), h.handleCancel)

	// ── Claimant actions ───────────────────────────────────────────────────
	rg.POST("/owners/:owner/vouchers/:id/redeem", v.Require(ActionRedeem), h.handleRedeem)
}

// CreateBody is the signed payload of a create request.
type CreateBody struct {
	Commitments []string            `json:"commitments"`
	IDs         []string            `json:"ids"`
	ExpireAt    *int64              `json:"expire_at,omitempty"` // unix nanoseconds
	PaymentType voucher.PaymentType `json:"payment_type"`
	Deposit     string              `json:"deposit"`
}

// RedeemBody is the signed payload of a redeem request.
type RedeemBody struct {
	Secret string `json:"secret"`
}

type infoResponse struct {
	Voucher   voucher.Voucher `json:"voucher"`
	Claimable string          `json:"claimable"`
}

// ── Queries ─────────────────────────────────────────────────────────────────

func (h *Handler) handleList(c *gin.Context) {
	owner, err := ownerParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	vs, err := h.engine.ListVouchers(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "vouchers": vs})
}

func (h *Handler) handleInfo(c *gin.Context) {
	owner, err := ownerParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	info, err := h.engine.VoucherInfo(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, infoResponse{Voucher: info.Voucher, Claimable: info.Claimable.Dec()})
}

// ── Mutations ───────────────────────────────────────────────────────────────

func (h *Handler) handleCreate(c *gin.Context) {
	var body CreateBody
	if err := decodePayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	deposit, err := voucher.ParseAmount(body.Deposit)
	if err != nil {
		h.fail(c, err)
		return
	}
	vs, err := h.engine.CreateVouchers(c.Request.Context(), escrow.CreateRequest{
		Owner:       auth.Caller(c),
		Commitments: body.Commitments,
		IDs:         body.IDs,
		ExpireAt:    body.ExpireAt,
		PaymentType: body.PaymentType,
		Deposit:     deposit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vouchers": vs})
}

func (h *Handler) handleCancel(c *gin.Context) {
	refund, err := h.engine.CancelVoucher(c.Request.Context(), auth.Caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "refund": refund.Dec()})
}

func (h *Handler) handleRedeem(c *gin.Context) {
	owner, err := ownerParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var body RedeemBody
	if err := decodePayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	amount, err := h.engine.RedeemVoucher(c.Request.Context(), owner, body.Secret, c.Param("id"), auth.Caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "amount": amount.Dec()})
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// ownerParam returns the :owner path segment in checksummed form, the form
// the verifier records callers in.
func ownerParam(c *gin.Context) (string, error) {
	owner := c.Param("owner")
	if !common.IsHexAddress(owner) {
		return "", fmt.Errorf("%w: owner %q is not an address", voucher.ErrValidation, owner)
	}
	return common.HexToAddress(owner).Hex(), nil
}

func decodePayload(c *gin.Context, dst any) error {
	p := auth.Payload(c)
	if len(p) == 0 {
		return fmt.Errorf("%w: empty payload", voucher.ErrValidation)
	}
	if err := json.Unmarshal(p, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", voucher.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "code": voucher.Code(err)})
}

// StatusFor maps a lifecycle error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, voucher.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, voucher.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, voucher.ErrConflict),
		errors.Is(err, voucher.ErrVoucherLocked),
		errors.Is(err, voucher.ErrAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, voucher.ErrInvalidSecret),
		errors.Is(err, voucher.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, voucher.ErrExpired):
		return http.StatusGone
	case errors.Is(err, voucher.ErrNothingToClaim):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
