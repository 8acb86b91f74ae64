package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/yourorg/market-data-collector/internal/guard"
	"github.com/yourorg/market-data-collector/internal/middleware"
	"github.com/yourorg/market-data-collector/internal/model"
	"github.com/yourorg/market-data-collector/internal/service"
	"github.com/yourorg/market-data-collector/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MarketDataHandler handles market data HTTP requests
type MarketDataHandler struct {
	marketDataService *service.MarketDataService
	logger            *zap.Logger
}

// NewMarketDataHandler creates a new market data handler
func NewMarketDataHandler(marketDataService *service.MarketDataService, logger *zap.Logger) *MarketDataHandler {
	return &MarketDataHandler{
		marketDataService: marketDataService,
		logger:            logger,
	}
}

// GetCandles handles retrieving candle data for an instrument
// GET /api/v1/market-data/candles
func (h *MarketDataHandler) GetCandles(c *gin.Context) {
	var query model.CandleQuery

	// Parse instrument_id
	instrumentIDStr := c.Query("instrument_id")
	instrumentID, err := strconv.Atoi(instrumentIDStr)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid instrument ID")
		return
	}
	query.InstrumentID = instrumentID

	// Parse optional parameters
	if startStr := c.Query("start_date"); startStr != "" {
		startDate, ok := parseTimestampParam(startStr)
		if !ok {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid start_date format. Use YYYY-MM-DD or RFC3339")
			return
		}
		query.StartDate = &startDate
	}

	if endStr := c.Query("end_date"); endStr != "" {
		endDate, ok := parseTimestampParam(endStr)
		if !ok {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid end_date format. Use YYYY-MM-DD or RFC3339")
			return
		}
		query.EndDate = &endDate
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		query.Limit = &limit
	}

	execCtx := middleware.GetExecutionContext(c)

	candles, err := h.marketDataService.GetCandles(c.Request.Context(), execCtx, &query)
	if err != nil {
		var violation *guard.TimeTravelViolation
		switch {
		case errors.As(err, &violation):
			utils.SendErrorResponse(c, http.StatusForbidden, violation.Error())
		case errors.Is(err, service.ErrInvalidInstrumentID):
			utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrInstrumentNotFound):
			utils.SendErrorResponse(c, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("Failed to get candles",
				zap.Error(err),
				zap.Int("instrumentID", query.InstrumentID))
			utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to get candle data")
		}
		return
	}

	utils.SendSuccessResponse(c, http.StatusOK, candles)
}

// GetInstruments handles listing all stored instruments
// GET /api/v1/market-data/instruments
func (h *MarketDataHandler) GetInstruments(c *gin.Context) {
	instruments, err := h.marketDataService.GetInstruments(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get instruments", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to get instruments")
		return
	}

	utils.SendSuccessResponse(c, http.StatusOK, instruments)
}

// parseTimestampParam accepts RFC 3339 or a bare calendar date.
func parseTimestampParam(value string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, true
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
