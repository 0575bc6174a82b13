// Package httpapi expone el mercado por HTTP con echo. Las identidades vienen
// del claim sub de un JWT bearer (dirección hex).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/market"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const shutdownTimeout = 10 * time.Second

// Config agrupa los parámetros del servidor.
type Config struct {
	Addr          string
	JWTSecret     []byte
	RatePerSecond float64 // peticiones por identidad; 0 desactiva el límite
	Burst         int
}

// Server sirve la API sobre un Market.
type Server struct {
	echo    *echo.Echo
	market  *market.Market
	cfg     Config
	limiter *identityLimiter
}

// New crea el servidor y registra las rutas.
func New(m *market.Market, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger)

	s := &Server{
		echo:    e,
		market:  m,
		cfg:     cfg,
		limiter: newIdentityLimiter(cfg.RatePerSecond, cfg.Burst),
	}
	s.routes()
	return s
}

// Handler devuelve el http.Handler (tests).
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api/v1")
	api.Use(s.authenticate, s.throttle)

	api.GET("/opinions", s.handleListOpinions)
	api.GET("/opinions/:id", s.handleGetOpinion)
	api.GET("/opinions/:id/history", s.handleAnswerHistory)
	api.GET("/opinions/:id/competition", s.handleCompetition)
	api.GET("/opinions/:id/pools", s.handlePoolsForOpinion)
	api.GET("/questions/for-sale", s.handleQuestionsForSale)
	api.GET("/pools/:id", s.handleGetPool)
	api.GET("/accounts/:addr", s.handleGetAccount)
	api.GET("/events", s.handleEvents)
	api.GET("/params", s.handleGetParams)

	api.POST("/opinions", s.handleCreateOpinion)
	api.POST("/opinions/:id/answers", s.handleSubmitAnswer)
	api.POST("/opinions/:id/deactivate", s.handleDeactivate)
	api.POST("/opinions/:id/reactivate", s.handleReactivate)
	api.POST("/opinions/:id/sale", s.handleListForSale)
	api.POST("/opinions/:id/sale/cancel", s.handleCancelSale)
	api.POST("/opinions/:id/buy", s.handleBuyQuestion)
	api.POST("/opinions/:id/moderate", s.handleModerate)

	api.POST("/pools", s.handleCreatePool)
	api.POST("/pools/:id/contributions", s.handleContribute)
	api.POST("/pools/:id/complete", s.handleCompletePool)
	api.POST("/pools/:id/expire", s.handleExpirePool)
	api.POST("/pools/:id/withdraw", s.handleWithdrawFromPool)

	api.POST("/accounts/deposit", s.handleDeposit)
	api.POST("/accounts/claim", s.handleClaim)
	api.POST("/accounts/withdraw", s.handleWithdraw)

	admin := api.Group("/admin")
	admin.PATCH("/params", s.handleUpdateParams)
	admin.POST("/roles", s.handleGrantRole)
	admin.DELETE("/roles", s.handleRevokeRole)
	admin.POST("/treasury/withdraw", s.handleWithdrawTreasury)
}

// Run sirve hasta que ctx se cancela y luego cierra con un timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", s.cfg.Addr)
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi.Run: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Run: shutdown: %w", err)
	}
	return nil
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		slog.Debug("http request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "seq": s.market.Seq()})
}
