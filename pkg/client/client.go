// Package client talks to the shop over HTTP and the realtime socket, and
// keeps a local copy of the shop's state for display.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nft-shop/internal/models"
)

// APIError is a non-2xx answer from the shop.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("shop api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("shop api: %d %s", e.Status, e.Code)
}

// IsCode reports whether err is an APIError carrying the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// SetToken sets the operator token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// WebsocketURL derives the realtime endpoint from the API base URL.
func (c *Client) WebsocketURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String(), nil
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/admin/login", body, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *Client) GetItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	return items, c.do(ctx, http.MethodGet, "/api/items", nil, &items)
}

func (c *Client) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	return orders, c.do(ctx, http.MethodGet, "/api/orders", nil, &orders)
}

func (c *Client) GetSettings(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	return settings, c.do(ctx, http.MethodGet, "/api/settings", nil, &settings)
}

func (c *Client) PlaceOrder(ctx context.Context, itemID, walletAddress, txHash string) (models.Order, error) {
	var order models.Order
	body := map[string]string{"itemId": itemID, "walletAddress": walletAddress, "txHash": txHash}
	return order, c.do(ctx, http.MethodPost, "/api/orders", body, &order)
}

// ItemFields is the editable part of an item.
type ItemFields struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	PriceXEP    decimal.Decimal `json:"priceXep"`
	Cap         int             `json:"cap"`
}

func (c *Client) CreateItem(ctx context.Context, fields ItemFields) (models.Item, error) {
	var item models.Item
	return item, c.do(ctx, http.MethodPost, "/api/items", fields, &item)
}

func (c *Client) UpdateItem(ctx context.Context, id string, fields ItemFields) (models.Item, error) {
	var item models.Item
	return item, c.do(ctx, http.MethodPut, "/api/items/"+url.PathEscape(id), fields, &item)
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id), nil, nil)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	var order models.Order
	body := map[string]string{"status": string(status)}
	return order, c.do(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(id)+"/status", body, &order)
}

func (c *Client) UpdateSetting(ctx context.Context, key, value string) (models.Setting, error) {
	var setting models.Setting
	body := map[string]string{"value": value}
	return setting, c.do(ctx, http.MethodPut, "/api/settings/"+url.PathEscape(key), body, &setting)
}

func (c *Client) IncrementSetting(ctx context.Context, key string, amount decimal.Decimal) (models.Setting, error) {
	var setting models.Setting
	body := map[string]decimal.Decimal{"amount": amount}
	return setting, c.do(ctx, http.MethodPost, "/api/settings/"+url.PathEscape(key)+"/increment", body, &setting)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
