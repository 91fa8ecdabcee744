package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sidharth-m/ripple/internal/directory"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/livesync"
	"github.com/sidharth-m/ripple/internal/middleware"
	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveHandler streams a channel's reconciled view over a websocket.
// One connection = one LiveView; closing either tears down the other.
type LiveHandler struct {
	syncer    *livesync.Syncer
	directory *directory.Directory
	bus       feed.Feed
	logger    *zap.Logger
}

func NewLiveHandler(syncer *livesync.Syncer, dir *directory.Directory, bus feed.Feed, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{syncer: syncer, directory: dir, bus: bus, logger: logger}
}

// liveEnvelope is one server→client frame.
type liveEnvelope struct {
	Type     string               `json:"type"` // "view", "channel", "error"
	Messages []models.MessageView `json:"messages,omitempty"`
	Channel  json.RawMessage      `json:"channel,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// liveCommand is one client→server frame.
type liveCommand struct {
	Type string `json:"type"` // "retry"
}

// Stream handles GET /v1/channels/:id/live. Opening a channel joins it
// (membership is lazy and idempotent), then the full view is pushed
// after every merge. New-channel announcements ride along so a sidebar
// can stay current on the same connection.
func (h *LiveHandler) Stream(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	ch, err := h.directory.Get(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("failed to get channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open channel"})
		return
	}
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.directory.EnsureMember(c.Request.Context(), channelID, userID); err != nil {
		h.logger.Error("failed to join channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open channel"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	view := h.syncer.Open(context.Background(), channelID)
	defer view.Close()
	defer conn.Close()

	// Coalesce change notifications: the writer always sends the latest
	// state, so collapsing a burst into one wakeup loses nothing.
	updates := make(chan struct{}, 1)
	view.OnChange(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	channelSub, err := h.bus.Subscribe(c.Request.Context(), feed.TableChannels, []feed.Kind{feed.KindInsert}, nil)
	if err != nil {
		// Directory announcements are a convenience; the message stream
		// works without them.
		h.logger.Warn("channel feed subscription failed", zap.Error(err))
	}
	if channelSub != nil {
		defer channelSub.Close()
	}

	done := make(chan struct{})
	go h.readLoop(conn, view, done)
	h.writeLoop(conn, view, updates, channelSub, done)
}

// readLoop consumes client frames until the connection drops. The only
// command is "retry", which re-runs the view's open sequence after a
// failed snapshot.
func (h *LiveHandler) readLoop(conn *websocket.Conn, view *livesync.LiveView, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd liveCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			continue
		}
		if cmd.Type == "retry" {
			if err := view.Retry(context.Background()); err != nil {
				h.logger.Warn("live view retry failed", zap.Error(err))
			}
		}
	}
}

// writeLoop is the single writer on the connection: view updates,
// channel announcements, and keepalive pings all leave from here.
func (h *LiveHandler) writeLoop(conn *websocket.Conn, view *livesync.LiveView, updates <-chan struct{}, channelSub feed.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var channelEvents <-chan feed.Event
	if channelSub != nil {
		channelEvents = channelSub.Events()
	}

	// Initial frame: the seeded view, or the error that kept it from
	// seeding (the client may answer with a retry command).
	if err := h.sendView(conn, view); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-updates:
			if err := h.sendView(conn, view); err != nil {
				return
			}
		case ev, ok := <-channelEvents:
			if !ok {
				channelEvents = nil
				continue
			}
			frame := liveEnvelope{Type: "channel", Channel: ev.Row()}
			if err := h.send(conn, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *LiveHandler) sendView(conn *websocket.Conn, view *livesync.LiveView) error {
	if err := view.Err(); err != nil {
		return h.send(conn, liveEnvelope{Type: "error", Error: err.Error()})
	}
	return h.send(conn, liveEnvelope{Type: "view", Messages: view.Messages()})
}

func (h *LiveHandler) send(conn *websocket.Conn, frame liveEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
