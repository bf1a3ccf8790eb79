package services

import (
	"context"
	"strings"
	"time"

	apperrors "ai_assistant_go_backend/internal/errors"
	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/pricing"
	"ai_assistant_go_backend/internal/providers"

	"github.com/rs/zerolog"
)

const defaultSystemPrompt = "You are a helpful assistant. Format your answers in markdown with easily readable paragraphs."

// ChatService drives one end-to-end message exchange: preflight, persist the
// user message, call the provider, settle the charge, finalize. Every
// failure branch ends in a structured result; user input is never rolled
// back once written.
type ChatService struct {
	configs         *ConfigService
	credits         CreditLedger
	conversations   *ConversationService
	selectGateway   GatewaySelector
	systemPrompt    string
	estimateFactor  float64
	providerTimeout time.Duration
	log             zerolog.Logger
}

func NewChatService(
	configs *ConfigService,
	credits CreditLedger,
	conversations *ConversationService,
	selectGateway GatewaySelector,
	estimateFactor float64,
	providerTimeout time.Duration,
	log zerolog.Logger,
) *ChatService {
	if estimateFactor <= 0 {
		estimateFactor = 1.5
	}
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &ChatService{
		configs:         configs,
		credits:         credits,
		conversations:   conversations,
		selectGateway:   selectGateway,
		systemPrompt:    defaultSystemPrompt,
		estimateFactor:  estimateFactor,
		providerTimeout: providerTimeout,
		log:             log,
	}
}

// SendResult is the structured outcome of one exchange. ProviderFailed marks
// the visible-but-unbilled branch; BillingFlagged marks a delivered response
// whose settlement was denied.
type SendResult struct {
	UserMessage      *models.Message `json:"user_message"`
	AIMessage        *models.Message `json:"ai_message"`
	CreditsUsed      float64         `json:"credits_used"`
	RemainingCredits float64         `json:"remaining_credits"`
	ProviderFailed   bool            `json:"provider_failed,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	BillingFlagged   bool            `json:"billing_flagged,omitempty"`
	BillingWarning   string          `json:"billing_warning,omitempty"`
}

func (s *ChatService) SendMessage(ctx context.Context, user *models.User, conversationID uint, content string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("Message cannot be empty")
	}

	conversation, err := s.conversations.GetOwned(conversationID, user.ID)
	if err != nil {
		return nil, err
	}

	// Snapshot the configuration once; estimate and settlement must use the
	// same record even if an admin swaps configs mid-flight.
	cfg, err := s.configs.ActiveConfig(user.CompanyID)
	if err != nil {
		return nil, err
	}

	gateway, err := s.selectGateway(cfg)
	if err != nil {
		return nil, apperrors.NewServiceUnavailableError(err.Error())
	}

	// Preflight: advisory, read-only. A denial writes nothing.
	estimatedTokens := pricing.EstimateTokens(content, s.estimateFactor)
	estimatedCost := pricing.CreditCost(estimatedTokens, cfg)
	decision, err := s.credits.CheckAffordability(user.ID, estimatedCost)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}
	if !decision.Allowed {
		return nil, apperrors.NewInsufficientCreditsError(decision.Remaining, decision.Required)
	}

	// The user message is irrevocable from here on: later failures keep it.
	userMessage := &models.Message{Content: content, IsUserMessage: true}
	if err := s.conversations.AppendMessage(conversation.ID, userMessage); err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}

	history, err := s.buildHistory(conversation.ID)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}

	// The provider round-trip must finish billing even if the caller
	// disconnects, so it runs on a detached context with its own deadline.
	// No ledger lock is held across this call.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
	defer cancel()

	start := time.Now()
	completion, provErr := gateway.Complete(callCtx, history, cfg)
	responseTime := time.Since(start).Seconds()

	if provErr != nil {
		return s.recordProviderFailure(conversation.ID, cfg, userMessage, provErr, responseTime)
	}

	return s.settle(user, conversation.ID, cfg, userMessage, completion, responseTime)
}

func (s *ChatService) buildHistory(conversationID uint) ([]providers.Turn, error) {
	turns, err := s.conversations.RecentTurns(conversationID, providers.MaxHistoryTurns)
	if err != nil {
		return nil, err
	}
	history := make([]providers.Turn, 0, len(turns)+1)
	history = append(history, providers.Turn{Role: providers.RoleSystem, Content: s.systemPrompt})
	history = append(history, turns...)
	return providers.TrimHistory(history, providers.MaxHistoryTurns), nil
}

// recordProviderFailure persists the failed exchange so it stays visible in
// history, bills nothing, and returns a structured error result.
func (s *ChatService) recordProviderFailure(conversationID uint, cfg *models.AIConfig, userMessage *models.Message, provErr error, responseTime float64) (*SendResult, error) {
	s.log.Warn().Err(provErr).Uint("conversationID", conversationID).Msg("Provider call failed")

	if err := s.configs.RecordError(cfg.ID, provErr.Error()); err != nil {
		s.log.Error().Err(err).Msg("Failed to record provider error on config")
	}

	aiMessage := &models.Message{
		Content:      "Error: " + providerMessage(provErr),
		ErrorMessage: providerMessage(provErr),
		ResponseTime: responseTime,
	}
	if err := s.conversations.AppendMessage(conversationID, aiMessage); err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}

	return &SendResult{
		UserMessage:    userMessage,
		AIMessage:      aiMessage,
		ProviderFailed: true,
		ErrorMessage:   providerMessage(provErr),
	}, nil
}

// settle computes the actual charge from real usage, persists the AI
// message, and debits the ledger. A settlement denial keeps the delivered
// response but flags it: the provider cost is already incurred, and the next
// preflight will correctly deny further usage.
func (s *ChatService) settle(user *models.User, conversationID uint, cfg *models.AIConfig, userMessage *models.Message, completion *providers.Completion, responseTime float64) (*SendResult, error) {
	chargeTokens := pricing.ChargeableTokens(completion.Usage.Tokens, completion.Usage.Approximate)
	creditCost := pricing.CreditCost(chargeTokens, cfg)

	aiMessage := &models.Message{
		Content:           completion.Text,
		TokensUsed:        completion.Usage.Tokens,
		TokensApproximate: completion.Usage.Approximate,
		ResponseTime:      responseTime,
		CreditCost:        creditCost,
		ActualCostUSD:     pricing.ProviderCostUSD(completion.Usage.Tokens, cfg),
		RevenueUSD:        pricing.RevenueUSD(creditCost, cfg),
	}
	if err := s.conversations.AppendMessage(conversationID, aiMessage); err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}

	result := &SendResult{
		UserMessage: userMessage,
		AIMessage:   aiMessage,
		CreditsUsed: creditCost,
	}

	_, err := s.credits.Debit(user.ID, creditCost, chargeTokens, &aiMessage.ID, "AI response usage")
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeInsufficientCredits {
			return nil, apperrors.LogAndReturn500(err)
		}
		// Actual cost outran the estimate or a concurrent debit won the
		// race. The response is already delivered; flag it instead of
		// discarding incurred provider cost.
		s.log.Warn().
			Str("userID", user.ID.String()).
			Uint("messageID", aiMessage.ID).
			Float64("creditCost", creditCost).
			Msg("Settlement denied after delivery")

		aiMessage.BillingFlagged = true
		if upErr := s.conversations.UpdateMessage(aiMessage); upErr != nil {
			s.log.Error().Err(upErr).Msg("Failed to flag unsettled message")
		}
		result.BillingFlagged = true
		result.BillingWarning = "Your balance could not cover the full cost of this response. Please purchase more credits to continue."
	} else {
		if err := s.configs.RecordUsage(cfg.ID, chargeTokens, creditCost); err != nil {
			s.log.Error().Err(err).Msg("Failed to record config usage")
		}
	}

	if credit, err := s.credits.GetOrCreate(user.ID); err == nil {
		result.RemainingCredits = credit.RemainingCredits()
	}

	if err := s.conversations.MaybeDeriveTitle(conversationID, userMessage.Content); err != nil {
		s.log.Error().Err(err).Uint("conversationID", conversationID).Msg("Failed to derive conversation title")
	}

	return result, nil
}

func providerMessage(err error) string {
	if pe, ok := err.(*providers.ProviderError); ok {
		return pe.Message
	}
	return err.Error()
}
