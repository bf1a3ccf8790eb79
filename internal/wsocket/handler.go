package wsocket

import (
	"net/http"
	"time"

	"ai_assistant_go_backend/internal/models"
	"ai_assistant_go_backend/internal/notify"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler pushes credit events to a connected client. The socket is
// one-way: balance updates and low-credit warnings flow out, inbound
// frames other than pings are ignored.
type Handler struct {
	broker       *notify.Broker
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	log          zerolog.Logger
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewHandler(broker *notify.Broker, upgrader websocket.Upgrader, pingInterval time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		broker:       broker,
		upgrader:     upgrader,
		pingInterval: pingInterval,
		log:          log.With().Str("component", "wsocket").Logger(),
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user *models.User) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	userID := user.ID.String()
	events := h.broker.Subscribe(userID)
	defer h.broker.Unsubscribe(userID, events)

	h.log.Debug().Str("user_id", userID).Msg("Credit event socket opened")

	// Reader goroutine only notices disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.log.Debug().Str("user_id", userID).Msg("Credit event socket closed")
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(Message{
				Type:    event.Type,
				Payload: event.Payload,
			}); err != nil {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("Failed to push credit event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
