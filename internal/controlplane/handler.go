package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/history"
	"github.com/openmined/syftsync/internal/sync"
	"github.com/openmined/syftsync/internal/version"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	eventWriteTimeout   = 5 * time.Second
)

// Syncer is the part of the sync manager the control plane drives.
type Syncer interface {
	Status() sync.ManagerStatus
	IsRunning() bool
	SyncNow(ctx context.Context, opts sync.SyncOptions) (*sync.PassResult, error)
	Subscribe() <-chan *sync.StatusEvent
	Unsubscribe(ch <-chan *sync.StatusEvent)
}

// HistoryReader lists recorded passes.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Pass, error)
}

type Handler struct {
	syncer  Syncer
	history HistoryReader
}

// NewHandler wires the endpoints. history may be nil.
func NewHandler(syncer Syncer, history HistoryReader) *Handler {
	return &Handler{syncer: syncer, history: history}
}

func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, IndexResponse{App: version.AppName, Version: version.Detailed()})
}

func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{ManagerStatus: h.syncer.Status()}
	if stats, err := SelfStats(c.Request.Context()); err == nil {
		resp.Process = stats
	} else {
		slog.Debug("process stats unavailable", "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

// Sync starts a manual pass. It waits for the result unless async is set.
func (h *Handler) Sync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
			return
		}
	}
	if err := validateSyncRequest(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	opts := sync.SyncOptions{
		DryRun:    req.DryRun,
		Backends:  req.Backends,
		Direction: req.Direction,
		Mode:      req.Mode,
	}

	if req.Async {
		if h.syncer.IsRunning() {
			abortWithError(c, http.StatusConflict, ErrCodeSyncRunning, sync.ErrSyncAlreadyRunning)
			return
		}
		go func() {
			if _, err := h.syncer.SyncNow(context.WithoutCancel(c.Request.Context()), opts); err != nil {
				slog.Warn("control plane sync", "error", err)
			}
		}()
		c.JSON(http.StatusAccepted, SyncResponse{})
		return
	}

	result, err := h.syncer.SyncNow(c.Request.Context(), opts)
	switch {
	case errors.Is(err, sync.ErrSyncAlreadyRunning):
		abortWithError(c, http.StatusConflict, ErrCodeSyncRunning, err)
	case errors.Is(err, sync.ErrNoBackends):
		abortWithError(c, http.StatusUnprocessableEntity, ErrCodeNoBackends, err)
	case result == nil && err != nil:
		abortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
	default:
		resp := SyncResponse{Result: result}
		if err != nil {
			// the pass ran, some backends failed
			resp.Error = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func validateSyncRequest(req *SyncRequest) error {
	switch req.Direction {
	case "", config.DirectionUploadOnly, config.DirectionDownloadOnly, config.DirectionBidirectional:
	default:
		return fmt.Errorf("unknown direction %q", req.Direction)
	}
	switch req.Mode {
	case "", config.SyncModeIncremental, config.SyncModeFull:
	default:
		return fmt.Errorf("unknown mode %q", req.Mode)
	}
	return nil
}

func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		abortWithError(c, http.StatusServiceUnavailable, ErrCodeNoHistory, errors.New("history is disabled"))
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	passes, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Passes: passes})
}

// Events streams backend state transitions over a websocket as JSON.
func (h *Handler) Events(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		// Accept already wrote the response
		_ = c.Error(fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	defer conn.CloseNow()

	events := h.syncer.Subscribe()
	defer h.syncer.Unsubscribe(events)

	// client messages are ignored, CloseRead cancels ctx once the peer goes away
	ctx := conn.CloseRead(c.Request.Context())
	slog.Debug("events subscriber connected", "ip", c.ClientIP())

	for {
		select {
		case <-ctx.Done():
			slog.Debug("events subscriber gone", "ip", c.ClientIP())
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				slog.Debug("events write", "error", err)
				return
			}
		}
	}
}
