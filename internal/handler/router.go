package handler

import (
	"github.com/gin-gonic/gin"

	"buddychat-go/internal/middleware"
	"buddychat-go/internal/service"
)

// Dependencies 汇总注册路由所需的服务。
type Dependencies struct {
	Sessions  service.SessionService
	Relay     service.RelayService
	Images    service.ImageService
	Uploads   service.UploadService
	Profile   service.ProfileService
	Feedback  service.FeedbackService
	RateRPS   float64
	RateBurst int
}

// RegisterRoutes 注册全部业务路由。
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	relayHandler := NewRelayHandler(deps.Relay, deps.Images)
	uploadHandler := NewUploadHandler(deps.Uploads)
	authHandler := NewAuthHandler(deps.Sessions)
	chatHandler := NewChatHandler(deps.Sessions, deps.Feedback)
	profileHandler := NewProfileHandler(deps.Profile)

	limiter := middleware.RateLimit(deps.RateRPS, deps.RateBurst)

	// 中继路由组，路径与浏览器端约定保持一致
	api := r.Group("/api")
	api.Use(limiter)
	{
		api.POST("/chat", relayHandler.Chat)
		api.POST("/generate-image", relayHandler.GenerateImage)
		api.POST("/upload", uploadHandler.Upload)
	}

	apiV1 := r.Group("/api/v1")
	apiV1.Use(limiter)
	{
		sessions := apiV1.Group("/sessions")
		{
			sessions.POST("", authHandler.CreateSession)
			sessions.GET("/ws/:token", chatHandler.Watch)
		}

		chat := apiV1.Group("/chat")
		chat.Use(middleware.SessionAuth(deps.Sessions))
		{
			chat.GET("/messages", chatHandler.ListMessages)
			chat.POST("/messages", chatHandler.SendMessage)
			chat.DELETE("/messages", chatHandler.ClearMessages)
			chat.PUT("/messages/:id", chatHandler.EditMessage)
			chat.DELETE("/messages/:id", chatHandler.DeleteMessage)
			chat.POST("/messages/:id/regenerate", chatHandler.Regenerate)
			chat.POST("/messages/:id/reactions", chatHandler.ToggleReaction)
			chat.POST("/messages/:id/feedback", chatHandler.SubmitFeedback)
			chat.GET("/export", chatHandler.Export)
			chat.POST("/import", chatHandler.Import)
			chat.POST("/images", chatHandler.GenerateImage)
		}

		profile := apiV1.Group("/profile")
		profile.Use(middleware.SessionAuth(deps.Sessions))
		{
			profile.GET("", profileHandler.GetProfile)
			profile.DELETE("", profileHandler.ClearAll)
			profile.GET("/settings", profileHandler.GetSettings)
			profile.PUT("/settings", profileHandler.UpdateSettings)
			profile.GET("/username", profileHandler.GetUsername)
			profile.PUT("/username", profileHandler.SetUsername)
			profile.GET("/questions", profileHandler.GetQuestions)
			profile.GET("/suggestions", profileHandler.GetSuggestions)
			profile.POST("/suggestions", profileHandler.RecordSuggestion)
			profile.GET("/theme", profileHandler.GetTheme)
			profile.PUT("/theme", profileHandler.SetTheme)
			profile.GET("/onboarding", profileHandler.GetOnboarding)
			profile.PUT("/onboarding", profileHandler.CompleteOnboarding)
		}
	}
}
