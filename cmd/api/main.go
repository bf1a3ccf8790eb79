package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"ai_assistant_go_backend/cmd/api/config"
	"ai_assistant_go_backend/internal/api"
	"ai_assistant_go_backend/internal/auth"
	"ai_assistant_go_backend/internal/database"
	"ai_assistant_go_backend/internal/notify"
	"ai_assistant_go_backend/internal/providers"
	"ai_assistant_go_backend/internal/services"
	"ai_assistant_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	database.InitDB()

	broker := notify.NewBroker()

	configService := services.NewConfigService(database.DB, logger)
	creditService := services.NewCreditService(database.DB, broker, configService, cfg.FreeCredits, logger)
	conversationService := services.NewConversationService(database.DB, cfg.MaxConversations, logger)
	analyticsService := services.NewAnalyticsService(database.DB)
	userService := services.NewUserService(database.DB)

	chatService := services.NewChatService(
		configService,
		creditService,
		conversationService,
		providers.ForConfig,
		cfg.EstimateTokenFactor,
		cfg.ProviderTimeout,
		logger,
	)

	stripeService := services.NewStripeService(
		cfg.StripeSecretKey,
		cfg.StripeWebhookSecret,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		creditService,
		configService,
		logger,
	)

	authn := auth.NewAuthenticator(cfg.JWTSecret, userService)
	limiter := api.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.AllowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}
	wsHandler := wsocket.NewHandler(broker, upgrader, cfg.WebSocketPingInterval, logger)

	api.SetupRoutes(r, authn, limiter, api.Services{
		Chat:          chatService,
		Conversations: conversationService,
		Credits:       creditService,
		Configs:       configService,
		Analytics:     analyticsService,
		Stripe:        stripeService,
	})
	authn.SetupRoutes(r)

	r.GET("/ws", authn.Middleware(), func(c *gin.Context) {
		user, ok := auth.UserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
			return
		}
		wsHandler.HandleWebSocket(c.Writer, c.Request, user)
	})

	logger.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}
