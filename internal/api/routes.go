package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"nft-shop/internal/logger"
	"nft-shop/internal/middleware"
)

type RouterOptions struct {
	Realtime http.Handler
	Metrics  http.Handler
}

// RegisterHandlers mounts the JSON API. Writes other than order placement sit
// behind operator.
func RegisterHandlers(e *echo.Echo, h *Handlers, operator echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.GET("/items", h.GetItems)
	g.GET("/orders", h.GetOrders)
	g.GET("/settings", h.GetSettings)
	g.POST("/orders", h.PostOrder)
	g.POST("/admin/login", h.PostAdminLogin)

	g.POST("/items", h.PostItem, operator)
	g.PUT("/items/:id", h.PutItem, operator)
	g.DELETE("/items/:id", h.DeleteItem, operator)
	g.PUT("/orders/:id/status", h.PutOrderStatus, operator)
	g.PUT("/settings/:key", h.PutSetting, operator)
	g.POST("/settings/:key/increment", h.PostSettingIncrement, operator)
}

func NewRouter(h *Handlers, opts RouterOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(logger.EchoLogger(h.Logger))

	RegisterHandlers(e, h, middleware.OperatorAuth(h.AuthService, h.Logger))

	if opts.Realtime != nil {
		e.GET("/ws", echo.WrapHandler(opts.Realtime))
	}
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}
