package api

import (
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type PurchaseRequest struct {
	ItemID        string `json:"itemId"`
	WalletAddress string `json:"walletAddress"`
	TxHash        string `json:"txHash"`
}

type ItemRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	PriceXEP    decimal.Decimal `json:"priceXep"`
	Cap         int             `json:"cap"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type SettingRequest struct {
	Value string `json:"value"`
}

type IncrementRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
