package daemon

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

const maxCommandBody = 64 << 10

// CommandIngress accepts raw command payloads from a transport.
type CommandIngress interface {
	HandleMessage(source string, payload []byte)
}

// StatusSource produces the current status snapshot.
type StatusSource interface {
	Snapshot(ctx context.Context, s domain.Settings) domain.StatusSnapshot
}

// AdminServer is the local HTTP surface: health, metrics, recent events,
// status and command injection. Everything under /api/v1 needs the bearer
// token.
type AdminServer struct {
	addr     string
	token    string
	events   domain.EventStore
	config   domain.ConfigStore
	status   StatusSource
	commands CommandIngress
	logger   *zap.Logger
	engine   *gin.Engine
}

// NewAdminServer builds the router. An empty addr disables the server and
// an empty token locks the API.
func NewAdminServer(
	addr string,
	token string,
	events domain.EventStore,
	config domain.ConfigStore,
	status StatusSource,
	commands CommandIngress,
	logger *zap.Logger,
) *AdminServer {
	s := &AdminServer{
		addr:     addr,
		token:    token,
		events:   events,
		config:   config,
		status:   status,
		commands: commands,
		logger:   logger,
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the router for tests.
func (s *AdminServer) Handler() http.Handler { return s.engine }

func (s *AdminServer) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/v1", requireToken(s.token))
	api.GET("/events", s.listEvents)
	api.GET("/status", s.getStatus)
	api.POST("/commands", s.postCommand)
}

func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := bearerToken(c.GetHeader("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid admin token"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *AdminServer) listEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	ctx := c.Request.Context()
	settings, err := s.config.Load(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events, err := s.events.List(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]domain.EventPayload, 0, len(events))
	for _, ev := range events {
		out = append(out, domain.NewEventPayload(ev, settings))
	}
	c.JSON(http.StatusOK, out)
}

func (s *AdminServer) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := s.config.Load(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, domain.NewStatusPayload(s.status.Snapshot(ctx, settings)))
}

func (s *AdminServer) postCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty command body"})
		return
	}
	s.commands.HandleMessage("admin", body)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// Run serves until ctx is done.
func (s *AdminServer) Run(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
