package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"ai_assistant_go_backend/internal/models"
)

// MaxHistoryTurns caps the conversation history replayed to a provider.
// Callers trim before invoking a gateway; the gateway sends what it is given.
const MaxHistoryTurns = 10

const defaultTimeout = 30 * time.Second

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged entry of the conversation history.
type Turn struct {
	Role    Role
	Content string
}

// TokenUsage is the billable usage of one completion. Approximate marks
// counts derived from word heuristics rather than reported by the provider,
// so settlement can apply a conservative margin.
type TokenUsage struct {
	Tokens      int
	Approximate bool
}

type Completion struct {
	Text  string
	Usage TokenUsage
}

// Gateway adapts one upstream AI provider. Implementations are thin wire
// adapters: no billing logic, no persistence.
type Gateway interface {
	Complete(ctx context.Context, history []Turn, cfg *models.AIConfig) (*Completion, error)
}

type ErrorKind int

const (
	ErrKindTimeout ErrorKind = iota
	ErrKindConnection
	ErrKindUpstream
	ErrKindUnsupported
)

// ProviderError is the typed failure returned by every gateway.
type ProviderError struct {
	Kind    ErrorKind
	Status  int // upstream HTTP status, for ErrKindUpstream
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func timeoutError(err error) *ProviderError {
	return &ProviderError{Kind: ErrKindTimeout, Message: "Request timed out. Please try again.", Err: err}
}

func connectionError(err error) *ProviderError {
	return &ProviderError{Kind: ErrKindConnection, Message: "Could not reach the AI service. Please try again.", Err: err}
}

func upstreamError(status int, body string) *ProviderError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &ProviderError{
		Kind:    ErrKindUpstream,
		Status:  status,
		Message: fmt.Sprintf("AI service returned an error (status %d): %s", status, body),
	}
}

// classifyTransportError maps a failed round-trip to a timeout or
// connection failure.
func classifyTransportError(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err)
	}
	return connectionError(err)
}

// ForConfig selects the gateway variant for a configuration. New providers
// are added here as new variants, not as branches inside callers.
func ForConfig(cfg *models.AIConfig) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case models.ProviderOpenAI:
		return NewOpenAIGateway(), nil
	case models.ProviderAnthropic:
		return NewAnthropicGateway(), nil
	case models.ProviderGoogle:
		return NewGoogleGateway(), nil
	case models.ProviderWebhook:
		return NewWebhookGateway(), nil
	default:
		return nil, &ProviderError{
			Kind:    ErrKindUnsupported,
			Message: fmt.Sprintf("unsupported AI provider: %s", cfg.Provider),
		}
	}
}

// TrimHistory keeps the most recent max turns, always preserving a leading
// system turn when present.
func TrimHistory(history []Turn, max int) []Turn {
	if len(history) == 0 || max <= 0 {
		return nil
	}

	var system *Turn
	rest := history
	if history[0].Role == RoleSystem {
		system = &history[0]
		rest = history[1:]
	}

	if len(rest) > max {
		rest = rest[len(rest)-max:]
	}

	if system == nil {
		return rest
	}
	out := make([]Turn, 0, len(rest)+1)
	out = append(out, *system)
	return append(out, rest...)
}

// ApproximateTokens estimates token usage from text when the provider does
// not report it. Word count times 1.33 is the common rule of thumb for
// English text.
func ApproximateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.33))
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}
