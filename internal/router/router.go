// Package router wires the HTTP handlers onto an echo engine.
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"ticket-ledger/internal/handlers"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
	"ticket-ledger/security"
)

type Deps struct {
	Auth    *security.Authenticator
	Limiter *security.RateLimiter
	Lottery *handlers.LotteryHandler
	Tickets *handlers.TicketHandler
	Admin   *handlers.AdminHandler
	Store   store.Store
}

func Setup(d Deps) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = security.HTTPErrorHandler
	e.Use(requestLogger(), middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		if err := d.Store.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "healthy"})
	})

	required := d.Auth.Required()
	operator := security.RequireRole(models.RoleOperator)
	antiBot := d.Limiter.AntiBot()

	lottery := e.Group("/lottery", antiBot, required)
	lottery.POST("/register", d.Lottery.Register)
	lottery.POST("/draw", d.Lottery.Draw, operator)

	tickets := e.Group("/tickets")
	tickets.POST("/purchase", d.Tickets.Purchase, antiBot, required)
	tickets.POST("/purchase/direct", d.Tickets.PurchaseDirect, antiBot, required)
	tickets.POST("/:id/verify", d.Tickets.Verify, d.Auth.Optional(), d.Limiter.Middleware("verify"))
	tickets.POST("/:id/cancel", d.Tickets.Cancel, required)
	tickets.POST("/:id/transfer", d.Tickets.Transfer, required)
	tickets.GET("/mine", d.Tickets.Mine, required)
	tickets.GET("/:id/history", d.Tickets.History, required)

	ledger := e.Group("/ledger", required, operator)
	ledger.GET("/verify", d.Admin.VerifyChain)
	ledger.GET("/blocks", d.Admin.Blocks)
	ledger.POST("/flush", d.Admin.Flush)

	return e
}

func requestLogger() echo.MiddlewareFunc {
	logger := slog.Default().With("component", "http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			code := c.Response().Status
			if err != nil {
				code = security.ErrorStatus(err)
			}
			logger.Info("Request handled",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", code,
				"duration", time.Since(start),
				"client_ip", c.RealIP())
			return err
		}
	}
}
