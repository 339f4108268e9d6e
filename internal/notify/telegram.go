package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nft-shop/internal/models"
)

const placeholderImage = "https://placehold.co/600x400?text=NFT+Image"

// Telegram posts order alerts to a fixed set of chats through the Bot API.
type Telegram struct {
	baseURL        string
	botToken       string
	chatIDs        []string
	marketplaceURL string
	httpClient     *http.Client
	limiter        *rate.Limiter
}

type TelegramConfig struct {
	BaseURL        string
	BotToken       string
	ChatIDs        []string
	MarketplaceURL string
	// PerSecond caps outbound calls across all chats. Zero means 20/s.
	PerSecond float64
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Telegram{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		botToken:       cfg.BotToken,
		chatIDs:        cfg.ChatIDs,
		marketplaceURL: cfg.MarketplaceURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (t *Telegram) Enabled() bool { return t.botToken != "" && len(t.chatIDs) > 0 }

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

func (t *Telegram) Chats() []string { return t.chatIDs }

// Send posts the order alert to one chat, waiting on the shared limiter.
func (t *Telegram) Send(ctx context.Context, chatID string, order models.Order, item models.Item) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	photo := item.Image
	if photo == "" {
		photo = placeholderImage
	}
	return t.sendPhoto(ctx, sendPhotoRequest{
		ChatID:    chatID,
		Photo:     photo,
		Caption:   Caption(order, item, t.marketplaceURL),
		ParseMode: "HTML",
	})
}

func (t *Telegram) sendPhoto(ctx context.Context, payload sendPhotoRequest) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	defer resp.Body.Close()

	var body apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		if body.Parameters != nil {
			retryAfter = body.Parameters.RetryAfter
		}
		return fmt.Errorf("telegram rate limited, retry after %ds", retryAfter)
	}
	if resp.StatusCode >= 300 || !body.OK {
		return fmt.Errorf("telegram sendPhoto: status=%d %s", resp.StatusCode, body.Description)
	}
	return nil
}

// Caption renders the operator alert for one admitted order as Telegram HTML.
// Every user-supplied value is escaped. The order serial is left out since a
// cancelled unit is sold again under the same count.
func Caption(order models.Order, item models.Item, marketplaceURL string) string {
	var b strings.Builder
	b.WriteString("🔥 <b>New NFT Order Alert!</b> 🔥\n\n")
	fmt.Fprintf(&b, "🎨 <b>NFT Title:</b> %s\n", html.EscapeString(item.Title))
	fmt.Fprintf(&b, "💰 <b>Price:</b> %s MemeX\n", item.Price.StringFixed(2))
	fmt.Fprintf(&b, "💳 <b>Wallet:</b> <code>%s</code>\n", html.EscapeString(order.WalletAddress))
	fmt.Fprintf(&b, "🔗 <b>Tx Hash:</b> <code>%s</code>\n", html.EscapeString(order.TxHash))
	if marketplaceURL != "" {
		fmt.Fprintf(&b, "\n🌐 <a href=\"%s\">View on Marketplace</a>", html.EscapeString(marketplaceURL))
	}
	return b.String()
}
