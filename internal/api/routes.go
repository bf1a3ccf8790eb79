package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"ai_assistant_go_backend/internal/auth"
	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Services struct {
	Chat          *services.ChatService
	Conversations *services.ConversationService
	Credits       services.CreditLedger
	Configs       *services.ConfigService
	Analytics     *services.AnalyticsService
	Stripe        *services.StripeService
}

func SetupRoutes(r *gin.Engine, authn *auth.Authenticator, limiter *RateLimiter, svc Services) {
	api := r.Group("/api")
	{
		api.POST("/chat/message", authn.Middleware(), limiter.Middleware(), sendMessageHandler(svc))
		api.POST("/conversations", authn.Middleware(), createConversationHandler(svc))
		api.GET("/conversations", authn.Middleware(), listConversationsHandler(svc))
		api.GET("/conversations/:id/messages", authn.Middleware(), getMessagesHandler(svc))
		api.POST("/conversations/:id/archive", authn.Middleware(), archiveConversationHandler(svc))
		api.DELETE("/conversations/:id", authn.Middleware(), purgeConversationHandler(svc))

		api.GET("/credits", authn.Middleware(), getCreditsHandler(svc))
		api.GET("/credits/history", authn.Middleware(), getCreditHistoryHandler(svc))
		api.GET("/credits/summary", authn.Middleware(), getUsageSummaryHandler(svc))
		api.POST("/credits/purchase", authn.Middleware(), purchaseCreditsHandler(svc))
		api.POST("/stripe/webhook", stripeWebhookHandler(svc))

		api.GET("/status", authn.Middleware(), getStatusHandler(svc))
		api.GET("/analytics", authn.Middleware(), auth.AdminOnly(), getAnalyticsHandler(svc))

		admin := api.Group("/admin", authn.Middleware(), auth.AdminOnly())
		{
			admin.POST("/config", createConfigHandler(svc))
			admin.POST("/config/:id/activate", activateConfigHandler(svc))
			admin.POST("/users/:id/credits/reset", resetCreditsHandler(svc))
			admin.POST("/users/:id/credits/unlimited", grantUnlimitedHandler(svc))
		}
	}
}

func requireUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		apperrors.HandleError(c, apperrors.NewUnauthorizedError())
	}
	return user, ok
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseUserParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.NewValidationError("Invalid user id")
	}
	return id, nil
}

func conversationParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		apperrors.HandleError(c, apperrors.NewValidationError("Invalid conversation id"))
		return 0, false
	}
	return uint(id), true
}

func sendMessageHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		var request struct {
			ConversationID uint   `json:"conversation_id"`
			Message        string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}

		// A missing conversation id starts a fresh conversation.
		conversationID := request.ConversationID
		if conversationID == 0 {
			conversation, err := svc.Conversations.Create(user.ID, "")
			if err != nil {
				apperrors.HandleError(c, err)
				return
			}
			conversationID = conversation.ID
		}

		result, err := svc.Chat.SendMessage(c.Request.Context(), user, conversationID, request.Message)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		response := gin.H{
			"conversation_id":   conversationID,
			"user_message_id":   result.UserMessage.ID,
			"credits_used":      result.CreditsUsed,
			"remaining_credits": result.RemainingCredits,
		}
		if result.AIMessage != nil {
			response["message_id"] = result.AIMessage.ID
			response["response"] = result.AIMessage.Content
			response["tokens_used"] = result.AIMessage.TokensUsed
		}
		if result.ProviderFailed {
			response["provider_failed"] = true
			response["error_message"] = result.ErrorMessage
		}
		if result.BillingWarning != "" {
			response["billing_warning"] = result.BillingWarning
		}
		c.JSON(http.StatusOK, response)
	}
}

func createConversationHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		var request struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&request); err != nil && err != io.EOF {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}

		conversation, err := svc.Conversations.Create(user.ID, request.Title)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conversation)
	}
}

func listConversationsHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		limit, offset := pagination(c)

		conversations, total, err := svc.Conversations.ListByUser(user.ID, limit, offset)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversations": conversations,
			"total":         total,
			"limit":         limit,
			"offset":        offset,
			"has_more":      int64(offset+len(conversations)) < total,
		})
	}
}

func getMessagesHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		conversationID, ok := conversationParam(c)
		if !ok {
			return
		}

		if _, err := svc.Conversations.GetOwned(conversationID, user.ID); err != nil {
			apperrors.HandleError(c, err)
			return
		}

		limit, offset := pagination(c)
		messages, total, err := svc.Conversations.Messages(conversationID, limit, offset)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"messages": messages,
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": int64(offset+len(messages)) < total,
		})
	}
}

func archiveConversationHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		conversationID, ok := conversationParam(c)
		if !ok {
			return
		}

		if _, err := svc.Conversations.GetOwned(conversationID, user.ID); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		if err := svc.Conversations.Archive(conversationID); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"archived": true})
	}
}

func purgeConversationHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		conversationID, ok := conversationParam(c)
		if !ok {
			return
		}

		if _, err := svc.Conversations.GetOwned(conversationID, user.ID); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		if err := svc.Conversations.Purge(conversationID); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

func getCreditsHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		credit, err := svc.Credits.GetOrCreate(user.ID)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"remaining_credits":   credit.RemainingCredits(),
			"total_credits":       credit.TotalCredits,
			"used_credits":        credit.UsedCredits,
			"unlimited_active":    credit.UnlimitedActive(time.Now()),
			"total_messages_sent": credit.TotalMessagesSent,
			"total_tokens_used":   credit.TotalTokensUsed,
			"is_active":           credit.IsActive,
		})
	}
}

func getCreditHistoryHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
		if days <= 0 {
			days = 30
		}
		limit, offset := pagination(c)
		since := time.Now().AddDate(0, 0, -days)

		transactions, total, err := svc.Credits.Transactions(user.ID, since, limit, offset)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions,
			"total":        total,
			"limit":        limit,
			"offset":       offset,
			"has_more":     int64(offset+len(transactions)) < total,
		})
	}
}

func getUsageSummaryHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
		if days <= 0 {
			days = 30
		}

		summary, err := svc.Credits.UsageSummary(user.ID, days)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func purchaseCreditsHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}

		var request struct {
			CreditAmount float64 `json:"credit_amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		if request.CreditAmount <= 0 {
			apperrors.HandleError(c, apperrors.NewValidationError("credit_amount must be positive"))
			return
		}

		session, err := svc.Stripe.CreateCheckoutSession(user.ID.String(), user.CompanyID, request.CreditAmount)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":   session.ID,
			"checkout_url": session.URL,
		})
	}
}

func stripeWebhookHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		const MaxBodyBytes = int64(65536)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
			return
		}

		signatureHeader := c.GetHeader("Stripe-Signature")
		if err := svc.Stripe.HandleWebhook(payload, signatureHeader); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to process webhook"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func getStatusHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := requireUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, svc.Configs.Status(user.CompanyID))
	}
}

func getAnalyticsHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
		if days <= 0 {
			days = 30
		}

		metrics, err := svc.Analytics.BusinessMetrics(days)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, metrics)
	}
}

func createConfigHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg models.AIConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		if err := svc.Configs.Create(&cfg); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cfg)
	}
}

func activateConfigHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil || id == 0 {
			apperrors.HandleError(c, apperrors.NewValidationError("Invalid config id"))
			return
		}
		if err := svc.Configs.Activate(uint(id)); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"activated": true})
	}
}

func resetCreditsHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseUserParam(c)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		if err := svc.Credits.Reset(userID); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}

func grantUnlimitedHandler(svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseUserParam(c)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		var request struct {
			Days int `json:"days" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil || request.Days <= 0 {
			apperrors.HandleError(c, apperrors.NewValidationError("days must be a positive integer"))
			return
		}

		start := time.Now()
		end := start.AddDate(0, 0, request.Days)
		if err := svc.Credits.GrantUnlimited(userID, start, end); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"unlimited_until": end.Format(time.RFC3339),
		})
	}
}
