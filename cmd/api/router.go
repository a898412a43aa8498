package api

import (
	"net/http"

	authDelivery "mailsync-backend/internal/auth/delivery"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	taskDelivery "mailsync-backend/internal/task/delivery"
	"mailsync-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, authUsecase authUsecase.AuthUsecase, authHandler *authDelivery.AuthHandler, emailHandler *emailDelivery.EmailHandler, taskHandler *taskDelivery.TaskHandler) {
	requireAuth := authDelivery.AuthMiddleware(authUsecase)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", requireAuth, authHandler.Me)
			auth.GET("/google/url", authHandler.GoogleAuthURL)
			auth.POST("/google/callback", authHandler.GoogleCallback)
		}

		accounts := api.Group("/accounts")
		accounts.Use(requireAuth)
		{
			accounts.GET("", authHandler.ListAccounts)
			accounts.DELETE("/:id", authHandler.UnlinkAccount)
		}

		fcm := api.Group("/fcm")
		fcm.Use(requireAuth)
		{
			fcm.POST("/register", authHandler.RegisterFCMToken)
			fcm.DELETE("/:token", authHandler.UnregisterFCMToken)
		}

		sync := api.Group("/sync")
		sync.Use(requireAuth)
		{
			sync.POST("", emailHandler.TriggerSync)
			sync.GET("/status", emailHandler.GetSyncStatus)
		}

		emails := api.Group("/emails")
		emails.Use(requireAuth)
		{
			emails.GET("", emailHandler.GetEmails)
			emails.GET("/:id", emailHandler.GetEmailByID)
		}

		api.GET("/threads", requireAuth, emailHandler.GetThreads)

		tasks := api.Group("/tasks")
		tasks.Use(requireAuth)
		{
			tasks.GET("", taskHandler.GetTasks)
			tasks.POST("", taskHandler.CreateTask)
			tasks.POST("/from-email/:emailId", taskHandler.CreateTaskFromEmail)
			tasks.GET("/:id", taskHandler.GetTaskByID)
			tasks.PUT("/:id", taskHandler.UpdateTask)
			tasks.PATCH("/:id/status", taskHandler.UpdateTaskStatus)
			tasks.DELETE("/:id", taskHandler.DeleteTask)
		}
	}
}
