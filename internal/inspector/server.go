// Package inspector serves a read-only HTTP view of a running session:
// its progress, the trial table so far and a live event stream.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/trial"
)

// Source is the session being monitored.
type Source interface {
	Snapshot() session.Snapshot
	Results() *trial.Table
}

// Server is the monitor HTTP server.
type Server struct {
	bus       events.EventBus
	src       Source
	engine    *gin.Engine
	log       *slog.Logger
	startTime time.Time
}

// New creates a monitor for src. Events are read from bus.
func New(bus events.EventBus, src Source, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		bus:       bus,
		src:       src,
		engine:    gin.New(),
		log:       logging.OrDiscard(logger),
		startTime: time.Now(),
	}
	s.engine.Use(gin.Recovery(), cors)

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/session", s.handleSession)
		api.GET("/trials", s.handleTrials)
		api.GET("/history", s.handleHistory)
		api.GET("/events", s.handleEvents)
	}
	return s
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on port until ctx is done.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("session monitor listening", "addr", srv.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.src.Snapshot()
	history := s.bus.History(0)
	aborted := 0
	for _, ev := range history {
		if ev.Type == events.EventSessionAbort {
			aborted++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"uptime":    time.Since(s.startTime).String(),
		"events":    len(history),
		"phase":     snap.Phase,
		"completed": snap.Completed,
		"total":     snap.Total,
		"aborted":   aborted > 0,
	})
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Snapshot())
}

// handleTrials returns the frozen results; ?since=n skips the first n.
func (s *Server) handleTrials(c *gin.Context) {
	results := s.src.Results().Results()
	if v := c.Query("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		if n > len(results) {
			n = len(results)
		}
		results = results[n:]
	}
	c.JSON(http.StatusOK, gin.H{
		"factors": s.src.Results().Factors(),
		"trials":  results,
	})
}

// handleHistory returns retained events; ?type= filters by event type
// and ?after= skips events up to that sequence number.
func (s *Server) handleHistory(c *gin.Context) {
	after, err := seqParam(c.Query("after"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an event sequence number"})
		return
	}
	history := s.bus.History(after)
	if typ := c.Query("type"); typ != "" {
		filtered := make([]events.Event, 0, len(history))
		for _, ev := range history {
			if string(ev.Type) == typ {
				filtered = append(filtered, ev)
			}
		}
		history = filtered
	}
	c.JSON(http.StatusOK, history)
}

// handleEvents replays retained history and then streams live events as
// server-sent events. Each event carries its sequence number as the SSE
// id, so a reconnecting client resumes after Last-Event-ID.
func (s *Server) handleEvents(c *gin.Context) {
	lastSeq, err := seqParam(c.GetHeader("Last-Event-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid Last-Event-ID"})
		return
	}

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for _, ev := range s.bus.History(lastSeq) {
		renderEvent(c, ev)
		lastSeq = ev.Seq
	}
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			// Already sent as history.
			if ev.Seq <= lastSeq {
				return true
			}
			renderEvent(c, ev)
			return true
		}
	})
}

func renderEvent(c *gin.Context, ev events.Event) {
	c.Render(-1, sse.Event{
		Id:    strconv.FormatUint(ev.Seq, 10),
		Event: string(ev.Type),
		Data:  ev,
	})
}

func seqParam(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
