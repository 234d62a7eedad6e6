package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/internal/session"
)

// SessionContextKey is where the session middleware stores the caller's session.
const SessionContextKey = "kbagent.session"

// SessionFrom returns the session attached by the middleware.
func SessionFrom(c *gin.Context) *session.Session {
	return c.MustGet(SessionContextKey).(*session.Session)
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
}

// SocketHandler serves the live chat channel used by the page.
// Frames are handled strictly in order, one at a time.
type SocketHandler struct {
	logger *zap.SugaredLogger
}

func NewSocketHandler(logger *zap.SugaredLogger) *SocketHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SocketHandler{logger: logger}
}

type chatClientMessage struct {
	Type     string `json:"type"`
	Question string `json:"question"`
}

// HandleChat upgrades the request and serves ask/reload/clear/history/ping frames.
func (h *SocketHandler) HandleChat(c *gin.Context) {
	sess := SessionFrom(c)

	// the upgrade writes its own response, so a freshly issued session cookie must be passed along
	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, upgradeHeader(c))
	if err != nil {
		h.logger.Warnf("chat websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	sendError := func(message string, detail error) error {
		errMsg := gin.H{"type": "error", "error": message}
		if detail != nil {
			errMsg["detail"] = detail.Error()
			h.logger.Warnf("chat websocket error: %s: %v", message, detail)
		}
		return conn.WriteJSON(errMsg)
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("client chat websocket closed: %v", err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			if err := sendError("unsupported frame", errors.New("text frames only")); err != nil {
				return
			}
			continue
		}

		var msg chatClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			if err := sendError("invalid message", err); err != nil {
				return
			}
			continue
		}

		var reply interface{}
		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "ask":
			turn, err := sess.Ask(ctx, msg.Question)
			if err != nil {
				if errors.Is(err, session.ErrEmptyQuestion) {
					err = sendError("question is required", err)
				} else {
					err = sendError(LoadErrorMessage(err), err)
				}
				if err != nil {
					return
				}
				continue
			}
			reply = gin.H{"type": "turn", "turn": turn, "turns": sess.TurnCount()}

		case "reload":
			kb, err := sess.Reload(ctx)
			if err != nil {
				if err := sendError(LoadErrorMessage(err), err); err != nil {
					return
				}
				continue
			}
			reply = gin.H{"type": "status", "status": kb.Status(), "documents": kb.Count(), "warnings": kb.Warnings}

		case "clear":
			sess.Clear()
			reply = gin.H{"type": "cleared"}

		case "history":
			reply = gin.H{"type": "history", "turns": sess.Turns()}

		case "ping":
			reply = gin.H{"type": "pong"}

		default:
			if err := sendError("unsupported message type", errors.New(msg.Type)); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warnf("send chat frame failed: %v", err)
			return
		}
	}
}

func upgradeHeader(c *gin.Context) http.Header {
	cookies := c.Writer.Header().Values("Set-Cookie")
	if len(cookies) == 0 {
		return nil
	}

	header := http.Header{}
	for _, cookie := range cookies {
		header.Add("Set-Cookie", cookie)
	}
	return header
}
