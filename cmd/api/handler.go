package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mailsync-backend/internal/app"
	authDelivery "mailsync-backend/internal/auth/delivery"
	emailDelivery "mailsync-backend/internal/email/delivery"
	taskDelivery "mailsync-backend/internal/task/delivery"
	"mailsync-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	container    *app.Container
	authHandler  *authDelivery.AuthHandler
	emailHandler *emailDelivery.EmailHandler
	taskHandler  *taskDelivery.TaskHandler
	server       *http.Server
}

func NewHandler(c *app.Container) *Handler {
	return &Handler{
		container:    c,
		authHandler:  authDelivery.NewAuthHandler(c.Auth),
		emailHandler: emailDelivery.NewEmailHandler(c.Sync, c.Config.SyncRateLimit),
		taskHandler:  taskDelivery.NewTaskHandler(c.TaskUsecase),
	}
}

// Engine builds the gin engine with middleware and routes.
func (h *Handler) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	SetupRoutes(r, h.container.Auth, h.authHandler, h.emailHandler, h.taskHandler)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (h *Handler) Start(ctx context.Context, addr string) error {
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.With("http").Info().Str("addr", addr).Msg("server starting")
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return h.server.Shutdown(shutdownCtx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.With("http").Info()
		if status >= http.StatusInternalServerError {
			event = logger.With("http").Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("user_id", c.GetString("userID")).
			Msg("request")
	}
}
