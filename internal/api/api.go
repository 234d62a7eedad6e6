package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/config"
	"github.com/wuwenbin0122/kbagent/handlers"
	"github.com/wuwenbin0122/kbagent/internal/models"
	"github.com/wuwenbin0122/kbagent/internal/session"
	"github.com/wuwenbin0122/kbagent/internal/watcher"
	"github.com/wuwenbin0122/kbagent/services"
)

const sessionCookie = "kb_session"

//go:embed templates/index.html
var templatesFS embed.FS

// FolderMonitor reports the current state of the documents folder.
type FolderMonitor interface {
	Snapshot() watcher.Snapshot
}

// scanMonitor is used when the fsnotify watcher is disabled.
type scanMonitor struct {
	dir string
}

func (m scanMonitor) Snapshot() watcher.Snapshot {
	return watcher.Scan(m.dir)
}

type Handler struct {
	cfg      *config.Config
	sessions *session.Manager
	monitor  FolderMonitor
	socket   *handlers.SocketHandler
	page     *template.Template
	logger   *zap.SugaredLogger
}

// NewHandler wires the HTTP surface. monitor may be nil, in which case the folder is scanned per request.
func NewHandler(cfg *config.Config, sessions *session.Manager, monitor FolderMonitor, logger *zap.SugaredLogger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if monitor == nil {
		monitor = scanMonitor{dir: cfg.DocumentsDir}
	}

	page, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		monitor:  monitor,
		socket:   handlers.NewSocketHandler(logger),
		page:     page,
		logger:   logger,
	}, nil
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.withSession, h.handleIndex)

	apiGroup := router.Group("/api", h.withSession)
	apiGroup.GET("/status", h.handleStatus)
	apiGroup.GET("/conversation", h.handleConversation)
	apiGroup.DELETE("/conversation", h.handleClear)
	apiGroup.POST("/ask", h.handleAsk)
	apiGroup.POST("/reload", h.handleReload)
	apiGroup.GET("/ws", h.socket.HandleChat)
}

type askRequest struct {
	Question string `json:"question"`
}

// withSession resolves the session cookie, starting a new session when it is absent or stale.
func (h *Handler) withSession(c *gin.Context) {
	if token, err := c.Cookie(sessionCookie); err == nil {
		if sess, err := h.sessions.Resolve(token); err == nil {
			c.Set(handlers.SessionContextKey, sess)
			c.Next()
			return
		}
	}

	sess, token, expiresAt, err := h.sessions.Issue()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to start session", err)
		c.Abort()
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token, int(time.Until(expiresAt).Seconds()), "/", "", false, true)
	c.Set(handlers.SessionContextKey, sess)
	c.Next()
}

type pageData struct {
	CredentialLoaded bool
	DocumentsDir     string
	Folder           watcher.Snapshot
	KnowledgeBase    *models.KnowledgeBase
	LoadError        string
	Stale            bool
	Turns            []models.ConversationTurn
}

// handleIndex aggregates the documents on first visit, like the initial render of the page.
func (h *Handler) handleIndex(c *gin.Context) {
	sess := handlers.SessionFrom(c)

	data := pageData{
		CredentialLoaded: h.cfg.HasCredential(),
		DocumentsDir:     h.cfg.DocumentsDir,
		Folder:           h.monitor.Snapshot(),
		Turns:            sess.Turns(),
	}

	kb, err := sess.KnowledgeBase(c.Request.Context())
	if err != nil {
		h.logger.Warnw("knowledge base unavailable", "session", sess.ID, "error", err)
		data.LoadError = handlers.LoadErrorMessage(err)
	} else {
		data.KnowledgeBase = kb
		data.Stale = isStale(kb, data.Folder)
	}

	c.Render(http.StatusOK, render.HTML{Template: h.page, Name: "index.html", Data: data})
}

func (h *Handler) handleStatus(c *gin.Context) {
	sess := handlers.SessionFrom(c)
	folder := h.monitor.Snapshot()
	kb := sess.Cached()

	kbStatus := gin.H{"loaded": kb != nil}
	if kb != nil {
		names := make([]string, 0, kb.Count())
		for _, doc := range kb.Documents {
			names = append(names, doc.Name)
		}
		kbStatus["status"] = kb.Status()
		kbStatus["documents"] = names
		kbStatus["warnings"] = kb.Warnings
		kbStatus["loadedAt"] = kb.LoadedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"credentialLoaded": h.cfg.HasCredential(),
		"documentsDir":     h.cfg.DocumentsDir,
		"folderPresent":    folder.Present,
		"documentsFound":   folder.Count,
		"knowledgeBase":    kbStatus,
		"stale":            isStale(kb, folder),
		"turns":            sess.TurnCount(),
	})
}

func (h *Handler) handleConversation(c *gin.Context) {
	sess := handlers.SessionFrom(c)
	c.JSON(http.StatusOK, gin.H{"turns": sess.Turns()})
}

func (h *Handler) handleClear(c *gin.Context) {
	sess := handlers.SessionFrom(c)
	sess.Clear()
	c.JSON(http.StatusOK, gin.H{"turns": []models.ConversationTurn{}})
}

func (h *Handler) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	sess := handlers.SessionFrom(c)
	turn, err := sess.Ask(c.Request.Context(), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyQuestion):
			writeError(c, http.StatusBadRequest, "question is required", err)
		default:
			writeError(c, http.StatusServiceUnavailable, handlers.LoadErrorMessage(err), err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"turn":  turn,
		"turns": sess.TurnCount(),
	})
}

func (h *Handler) handleReload(c *gin.Context) {
	sess := handlers.SessionFrom(c)

	kb, err := sess.Reload(c.Request.Context())
	if err != nil {
		writeError(c, statusForLoadError(err), handlers.LoadErrorMessage(err), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    kb.Status(),
		"documents": kb.Count(),
		"warnings":  kb.Warnings,
	})
}

func isStale(kb *models.KnowledgeBase, folder watcher.Snapshot) bool {
	if kb == nil {
		return false
	}
	return folder.ChangedAt.After(kb.LoadedAt)
}

func statusForLoadError(err error) int {
	switch {
	case errors.Is(err, services.ErrDocumentsNotFound),
		errors.Is(err, services.ErrNoDocuments),
		errors.Is(err, services.ErrNoReadableDocuments):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
