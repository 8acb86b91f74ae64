package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/yourorg/market-data-collector/internal/service"
	syncpkg "github.com/yourorg/market-data-collector/internal/sync"
	"github.com/yourorg/market-data-collector/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncHandler handles sync trigger HTTP requests. At most one sync run is
// in flight at a time; a trigger during an active run is rejected.
type SyncHandler struct {
	syncService *service.SyncService
	sink        syncpkg.CandleSink
	logger      *zap.Logger

	mu         sync.Mutex
	running    bool
	lastResult *service.RunResult
	lastError  string
	lastRunAt  time.Time
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *service.SyncService, sink syncpkg.CandleSink, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		sink:        sink,
		logger:      logger,
	}
}

// TriggerSync handles starting a sync run in the background
// POST /api/v1/sync
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		utils.SendErrorResponse(c, http.StatusConflict, "Sync already in progress")
		return
	}
	h.running = true
	h.lastRunAt = time.Now()
	h.mu.Unlock()

	go func() {
		result, err := h.syncService.Run(context.Background(), h.sink)

		h.mu.Lock()
		defer h.mu.Unlock()
		h.running = false
		h.lastResult = result
		h.lastError = ""
		if err != nil {
			h.lastError = err.Error()
			h.logger.Error("Sync run failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Sync started"})
}

// GetSyncStatus handles reporting the current and last sync run state
// GET /api/v1/sync/status
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := gin.H{
		"running": h.running,
	}
	if !h.lastRunAt.IsZero() {
		status["last_run_at"] = h.lastRunAt.UTC().Format(time.RFC3339)
	}
	if h.lastResult != nil {
		status["last_result"] = h.lastResult
	}
	if h.lastError != "" {
		status["last_error"] = h.lastError
	}

	c.JSON(http.StatusOK, status)
}
