package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinylib/msgp/msgp"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/auth"
	"github.com/bowmanmike/libsync/internal/metrics"
)

const usernameKey = "username"

// Store is what the server needs from the snapshot database.
type Store interface {
	ListPending(ctx context.Context) ([]app.PendingUpdate, error)
	DeleteApplied(ctx context.Context, upd app.PendingUpdate) (int64, error)
	RecordEdit(ctx context.Context, edit app.Edit) (string, error)
	SnapshotVersion(ctx context.Context) (int64, error)
	TotalFileSize(ctx context.Context) (int64, error)
	PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
}

// ServerConfig drives NewServer.
type ServerConfig struct {
	Store      Store
	Signer     *auth.Signer
	ArtworkDir string
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Server serves the update log, artwork and snapshot version.
type Server struct {
	store      Store
	signer     *auth.Signer
	artworkDir string
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewServer validates cfg and builds a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if strings.TrimSpace(cfg.ArtworkDir) == "" {
		return nil, errors.New("artwork dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		store:      cfg.Store,
		signer:     cfg.Signer,
		artworkDir: cfg.ArtworkDir,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/updates", s.handleUpdates)
	r.POST("/updates/ack", s.requireToken(true), s.handleAck)
	r.GET("/artwork/:filename", s.requireToken(true), s.handleArtwork)
	r.GET("/snapshot/version", s.requireToken(true), s.handleVersion)
	r.GET("/playlists/:id/tracks", s.requireToken(true), s.handlePlaylistTracks)
	r.POST("/tracks/:id/edits", s.requireToken(false), s.handleEdit)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) authenticate(c *gin.Context, allowService bool) (string, error) {
	token, ok := auth.BearerToken(c.GetHeader(authHeader))
	if !ok {
		return "", auth.ErrInvalidToken
	}
	return s.signer.Verify(token, allowService)
}

func (s *Server) requireToken(allowService bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.authenticate(c, allowService)
		if err != nil {
			s.logger.Warn("rejected request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(usernameKey, user)
		c.Next()
	}
}

// handleUpdates reports refusals inside the message so clients stop before
// touching the player.
func (s *Server) handleUpdates(c *gin.Context) {
	if _, err := s.authenticate(c, true); err != nil {
		s.logger.Warn("refused updates request", "error", err)
		s.writeMessage(c, ErrorMessage("not authenticated: "+err.Error()))
		return
	}

	pending, err := s.store.ListPending(c.Request.Context())
	if err != nil {
		s.logger.Error("list pending updates", "error", err)
		s.writeMessage(c, ErrorMessage("update log unavailable"))
		return
	}
	s.writeMessage(c, NewUpdatesMessage(pending))
}

// handleAck removes acknowledged updates from the update log. The body is an
// updates message listing what reached the player.
func (s *Server) handleAck(c *gin.Context) {
	var msg UpdatesMessage
	if err := msgp.Decode(c.Request.Body, &msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed acknowledgement"})
		return
	}
	acked, err := msg.Pending()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var removed int64
	for _, upd := range acked {
		n, err := s.store.DeleteApplied(c.Request.Context(), upd)
		if err != nil {
			s.logger.Error("acknowledge update", "field", upd.Field.String(), "track_id", upd.TrackID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not acknowledge update"})
			return
		}
		removed += n
	}
	s.logger.Debug("acknowledged updates", "count", len(acked), "removed", removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) writeMessage(c *gin.Context, msg *UpdatesMessage) {
	c.Header("Content-Type", ContentType)
	c.Status(http.StatusOK)
	if err := msgp.Encode(c.Writer, msg); err != nil {
		s.logger.Error("encode updates message", "error", err)
	}
}

func (s *Server) handleArtwork(c *gin.Context) {
	name := c.Param("filename")
	if !app.ValidArtworkFilename(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artwork filename"})
		return
	}
	c.File(filepath.Join(s.artworkDir, name))
}

func (s *Server) handleVersion(c *gin.Context) {
	ctx := c.Request.Context()
	version, err := s.store.SnapshotVersion(ctx)
	if err != nil {
		s.logger.Error("read snapshot version", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot version unavailable"})
		return
	}
	size, err := s.store.TotalFileSize(ctx)
	if err != nil {
		s.logger.Error("read library size", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot version unavailable"})
		return
	}
	c.JSON(http.StatusOK, versionResponse{Version: version, TotalFileSize: size})
}

func (s *Server) handlePlaylistTracks(c *gin.Context) {
	id := strings.ToUpper(c.Param("id"))
	ids, err := s.store.PlaylistTrackIDs(c.Request.Context(), id)
	if errors.Is(err, app.ErrPlaylistNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("read playlist tracks", "playlist_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "playlist unavailable"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, playlistResponse{PlaylistID: id, TrackIDs: ids})
}

type playlistResponse struct {
	PlaylistID string   `json:"playlist_id"`
	TrackIDs   []string `json:"track_ids"`
}

type editRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) handleEdit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	field, err := app.ParseField(req.Field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	edit := app.Edit{Field: field, TrackID: strings.ToUpper(c.Param("id")), Value: req.Value}
	stored, err := s.store.RecordEdit(c.Request.Context(), edit)
	if errors.Is(err, app.ErrInvalidEdit) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("record edit", "field", req.Field, "track_id", edit.TrackID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record edit"})
		return
	}

	s.logger.Info("recorded edit", "user", c.GetString(usernameKey), "field", req.Field, "track_id", edit.TrackID)
	c.JSON(http.StatusOK, gin.H{"field": field.String(), "track_id": edit.TrackID, "value": stored})
}
