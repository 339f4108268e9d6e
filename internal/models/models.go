package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderCancelled:
		return true
	}
	return false
}

// Item is a capped-supply digital asset. Sold is only ever written by the ledger.
type Item struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	PriceXEP    decimal.Decimal `json:"priceXep"`
	Cap         int             `json:"cap"`
	Sold        int             `json:"sold"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (i Item) SoldOut() bool {
	return i.Sold >= i.Cap
}

func (i Item) Remaining() int {
	if i.Sold >= i.Cap {
		return 0
	}
	return i.Cap - i.Sold
}

// Order is an admitted purchase. Serial is the ledger count this admission produced.
type Order struct {
	ID            string      `json:"id"`
	ItemID        string      `json:"itemId"`
	ItemTitle     string      `json:"itemTitle"`
	WalletAddress string      `json:"walletAddress"`
	TxHash        string      `json:"txHash"`
	Status        OrderStatus `json:"status"`
	Serial        int         `json:"serial"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const (
	SettingPendingBurn = "pendingBurn"
	SettingBurnedTotal = "burnedTotal"
)
