package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/agui"
	"github.com/spetersoncode/runchat/store"
)

// ServeCmd serves sessions over HTTP.
type ServeCmd struct {
	Addr string `name:"addr" help:"HTTP listen address." env:"RUNCHAT_HTTP_ADDR" default:":8000"`
}

// Run implements the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	app, err := NewApp(g.Ctx, g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	e := newEcho(app)
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-g.Ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			g.Logger.Warn("shutdown", "error", err)
		}
	}()

	g.Logger.Info("runchat listening", "addr", c.Addr, "backend", g.Config.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func newEcho(app *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	newHandler(app).RegisterRoutes(e)
	return e
}

// Handler serves the session API.
type Handler struct {
	app *App
	log *slog.Logger

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is a session held in memory while the server runs.
type liveSession struct {
	sess *agent.Session
	rec  *store.Record
	turn sync.Mutex // held while a turn streams
}

func newHandler(app *App) *Handler {
	return &Handler{
		app:  app,
		log:  app.Logger.With("component", "http"),
		live: make(map[string]*liveSession),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/sessions", h.CreateSession)
	e.GET("/sessions", h.ListSessions)
	e.GET("/sessions/:session_id", h.GetSession)
	e.POST("/sessions/:session_id/messages", h.PostMessage)
	e.POST("/sessions/:session_id/resume", h.ResumeSession)
	e.GET("/sessions/:session_id/approvals", h.ListApprovals)
	e.POST("/sessions/:session_id/approvals/:call_id", h.DecideApproval)
	e.GET("/sessions/:session_id/ws", h.Socket)

	e.GET("/metrics", echo.WrapHandler(h.app.Metrics.Handler()))
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateSession starts an empty session.
func (h *Handler) CreateSession(c echo.Context) error {
	sess := h.app.Driver.NewSession()
	ls := &liveSession{sess: sess, rec: &store.Record{}}
	if err := h.app.Sessions.Snapshot(c.Request().Context(), ls.rec, sess); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save session"})
	}

	h.mu.Lock()
	h.live[sess.ID] = ls
	h.mu.Unlock()

	h.log.Info("session created", "session_id", sess.ID)
	return c.JSON(http.StatusCreated, map[string]string{"id": sess.ID})
}

// ListSessions returns the stored session ids.
func (h *Handler) ListSessions(c echo.Context) error {
	ids, err := h.app.Sessions.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	return c.JSON(http.StatusOK, map[string][]string{"sessions": ids})
}

// GetSession returns the stored record with its transcript. A turn in
// progress shows up once it has finished.
func (h *Handler) GetSession(c echo.Context) error {
	rec, err := h.app.Sessions.Load(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

type messageRequest struct {
	Content string `json:"content"`
}

// PostMessage runs a turn and streams it as AG-UI events.
func (h *Handler) PostMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	ls, err := h.session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return h.stream(c, ls, req.Content, func(ctx context.Context, sink *agui.Sink) (*agent.Outcome, error) {
		return h.app.Driver.Drive(ctx, ls.sess, req.Content, sink)
	})
}

// ResumeSession re-drives an interrupted run and streams the rest of it.
func (h *Handler) ResumeSession(c echo.Context) error {
	ls, err := h.session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	if ls.sess.RunID() == "" {
		return h.fail(c, runchat.ErrNoActiveRun)
	}
	return h.stream(c, ls, "(resume)", func(ctx context.Context, sink *agui.Sink) (*agent.Outcome, error) {
		return h.app.Driver.Resume(ctx, ls.sess, sink)
	})
}

type turnFunc func(ctx context.Context, sink *agui.Sink) (*agent.Outcome, error)

// stream runs one turn as an SSE response.
func (h *Handler) stream(c echo.Context, ls *liveSession, prompt string, turn turnFunc) error {
	if !ls.turn.TryLock() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "a turn is already running"})
	}
	defer ls.turn.Unlock()

	ctx := c.Request().Context()

	// Thread creation can fail cleanly before the stream starts.
	threadID, err := h.app.Driver.EnsureThread(ctx, ls.sess)
	if err != nil {
		return h.fail(c, err)
	}

	out, err := agui.NewWriter(c.Response())
	if err != nil {
		h.log.Error("streaming not supported", "session_id", ls.sess.ID)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}
	c.Response().WriteHeader(http.StatusOK)

	h.execute(ctx, ls, threadID, prompt, out, turn)
	return nil
}

// execute runs turn with events mapped onto out, then records it in the
// transcript. The caller holds ls.turn.
func (h *Handler) execute(ctx context.Context, ls *liveSession, threadID, prompt string, out agui.EventWriter, turn turnFunc) {
	log := h.log.With("session_id", ls.sess.ID)
	start := time.Now()
	mapper := agui.NewMapper(threadID, "")
	sink := agui.NewSink(mapper, out, log)
	outcome, err := turn(ctx, sink)

	var failed *runchat.RunFailedError
	if err != nil && !errors.As(err, &failed) {
		// Failed runs already ended the stream with RUN_ERROR.
		if werr := out.WriteEvent(mapper.RunError(err)); werr != nil {
			log.Debug("failed to write RUN_ERROR", "error", werr)
		}
	}

	ls.rec.Append(store.TurnFrom(prompt, outcome, err, time.Now()))
	if serr := h.app.Sessions.Snapshot(context.WithoutCancel(ctx), ls.rec, ls.sess); serr != nil {
		log.Warn("session not saved", "error", serr)
	}

	if err != nil {
		log.Warn("turn ended with error", "duration_ms", time.Since(start).Milliseconds(), "events_sent", sink.Count(), "error", err)
		return
	}
	log.Info("turn completed", "duration_ms", time.Since(start).Milliseconds(), "events_sent", sink.Count())
}

// ListApprovals returns the session's outstanding approval batch.
func (h *Handler) ListApprovals(c echo.Context) error {
	ls, err := h.session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"approvals": ls.sess.Gate().Pending()})
}

// DecideApproval records a decision for one pending tool call.
func (h *Handler) DecideApproval(c echo.Context) error {
	var in agui.ApprovalInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	in.ToolCallID = c.Param("call_id")

	ls, err := h.session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}

	gate := ls.sess.Gate()
	err = agui.HandleApproval(gate, &in)
	switch {
	case err == nil, errors.Is(err, runchat.ErrAlreadyDecided):
		// Idempotent handling: if already decided, return current state.
	case errors.Is(err, runchat.ErrUnknownCall):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "tool call not pending"})
	default:
		return h.fail(c, err)
	}

	p, ok := gate.Lookup(in.ToolCallID)
	if !ok {
		// Decided and already submitted.
		return c.JSON(http.StatusOK, map[string]string{"toolCallId": in.ToolCallID, "state": string(agent.StateResolved)})
	}
	return c.JSON(http.StatusOK, p)
}

// session returns the live session for id, restoring it from the store.
func (h *Handler) session(ctx context.Context, id string) (*liveSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ls, ok := h.live[id]; ok {
		return ls, nil
	}
	rec, err := h.app.Sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := rec.Restore(h.app.Logger)
	if err != nil {
		return nil, err
	}
	ls := &liveSession{sess: sess, rec: rec}
	h.live[id] = ls
	return ls, nil
}

// fail maps an error to a JSON error response.
func (h *Handler) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runchat.ErrAuthExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, runchat.ErrApprovalOutstanding), errors.Is(err, runchat.ErrNoActiveRun):
		status = http.StatusConflict
	case runchat.StatusCodeOf(err) != 0:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
