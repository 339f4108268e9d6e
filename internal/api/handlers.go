package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"nft-shop/internal/models"
	"nft-shop/internal/service"
	"nft-shop/pkg"
)

type Handlers struct {
	AuthService service.AuthService
	Admission   service.AdmissionService
	Catalog     service.CatalogService
	Logger      pkg.Logger
}

func (h *Handlers) PostAdminLogin(ctx echo.Context) error {
	var req LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}

	token, err := h.AuthService.Authenticate(req.Username, req.Password)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Invalid credentials"})
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (h *Handlers) GetItems(ctx echo.Context) error {
	items, err := h.Catalog.ListItems(ctx.Request().Context())
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, items)
}

func (h *Handlers) GetOrders(ctx echo.Context) error {
	orders, err := h.Catalog.ListOrders(ctx.Request().Context())
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (h *Handlers) GetSettings(ctx echo.Context) error {
	settings, err := h.Catalog.ListSettings(ctx.Request().Context())
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (h *Handlers) PostOrder(ctx echo.Context) error {
	var req PurchaseRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}

	order, err := h.Admission.AdmitWithRetry(ctx.Request().Context(), service.PurchaseRequest{
		ItemID:        req.ItemID,
		WalletAddress: req.WalletAddress,
		TxHash:        req.TxHash,
	})
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, order)
}

func (h *Handlers) PostItem(ctx echo.Context) error {
	var req ItemRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}
	item, err := h.Catalog.CreateItem(ctx.Request().Context(), itemInput(req))
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (h *Handlers) PutItem(ctx echo.Context) error {
	var req ItemRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}
	item, err := h.Catalog.UpdateItem(ctx.Request().Context(), ctx.Param("id"), itemInput(req))
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, item)
}

func (h *Handlers) DeleteItem(ctx echo.Context) error {
	if err := h.Catalog.DeleteItem(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (h *Handlers) PutOrderStatus(ctx echo.Context) error {
	var req OrderStatusRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}
	order, err := h.Catalog.UpdateOrderStatus(ctx.Request().Context(), ctx.Param("id"), models.OrderStatus(req.Status))
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, order)
}

func (h *Handlers) PutSetting(ctx echo.Context) error {
	var req SettingRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}
	setting, err := h.Catalog.UpdateSetting(ctx.Request().Context(), ctx.Param("key"), req.Value)
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, setting)
}

func (h *Handlers) PostSettingIncrement(ctx echo.Context) error {
	var req IncrementRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request body"})
	}
	setting, err := h.Catalog.IncrementSetting(ctx.Request().Context(), ctx.Param("key"), req.Amount)
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, setting)
}

func (h *Handlers) writeError(ctx echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrInvalidWallet):
		status, code = http.StatusBadRequest, "invalid_wallet"
	case errors.Is(err, service.ErrInvalidTxRef):
		status, code = http.StatusBadRequest, "invalid_tx_ref"
	case errors.Is(err, service.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrItemNotFound):
		status, code = http.StatusNotFound, "item_not_found"
	case errors.Is(err, service.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, service.ErrSoldOut):
		status, code = http.StatusConflict, "sold_out"
	case errors.Is(err, service.ErrCapBelowSold):
		status, code = http.StatusConflict, "cap_below_sold"
	case errors.Is(err, service.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case service.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "try_again"
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", ctx.Request().Method),
			zap.String("path", ctx.Path()),
			zap.Error(err))
		return ctx.JSON(status, ErrorResponse{Error: code})
	}
	return ctx.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func itemInput(req ItemRequest) service.ItemInput {
	return service.ItemInput{
		Title:       req.Title,
		Description: req.Description,
		Image:       req.Image,
		Price:       req.Price,
		PriceXEP:    req.PriceXEP,
		Cap:         req.Cap,
	}
}
