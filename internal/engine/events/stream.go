package events

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	maxReplay  = 100
)

// StreamHandler streams broker events to websocket clients as JSON text frames.
//
// Query parameters: type (repeatable) limits the stream to those event types, and
// replay=N first sends the last N matching events, oldest first.
type StreamHandler struct {
	broker   *Broker
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a websocket handler over broker. An empty origins list accepts
// any origin.
func NewStreamHandler(broker *Broker, origins []string, log *logger.Logger) *StreamHandler {
	if log == nil {
		log = logger.NewDefault("events")
	}
	h := &StreamHandler{broker: broker, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.TrimRight(origin, "/")]
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := typeFilter(r.URL.Query()["type"])
	replay, _ := strconv.Atoi(r.URL.Query().Get("replay"))
	if replay > maxReplay {
		replay = maxReplay
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	history, events, unsubscribe := h.broker.SubscribeWithHistory(0, filter, replay)
	defer unsubscribe()
	h.log.WithField("remote", r.RemoteAddr).Debug("event stream opened")

	for i := len(history) - 1; i >= 0; i-- {
		if err := writeEvent(conn, history[i]); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, event); err != nil {
				h.log.WithError(err).Debug("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event lottery.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func typeFilter(types []string) EventFilter {
	if len(types) == 0 {
		return nil
	}
	wanted := make(map[lottery.EventType]bool, len(types))
	for _, t := range types {
		wanted[lottery.EventType(strings.TrimSpace(t))] = true
	}
	return func(e lottery.Event) bool { return wanted[e.Type] }
}
