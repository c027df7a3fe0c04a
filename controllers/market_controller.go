package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stockstream/config"
	"stockstream/services"
	"stockstream/services/provider"
)

// MarketController handles market data REST endpoints
type MarketController struct {
	quotes *services.QuoteService
	stream *services.StreamService
}

// NewMarketController creates a new market controller
func NewMarketController(quotes *services.QuoteService, stream *services.StreamService) *MarketController {
	return &MarketController{
		quotes: quotes,
		stream: stream,
	}
}

// GetQuote handles GET /api/v1/stocks/:symbol/quote
func (mc *MarketController) GetQuote(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol is required"})
		return
	}

	quote, err := mc.quotes.GetQuote(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, provider.ErrSymbolNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch quote for " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// GetHistory handles GET /api/v1/stocks/:symbol/history?period=1mo
func (mc *MarketController) GetHistory(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol is required"})
		return
	}

	period := c.DefaultQuery("period", "1mo")
	if !provider.HistoryPeriods[period] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period: " + period})
		return
	}

	candles, err := mc.quotes.GetHistory(c.Request.Context(), symbol, period)
	if err != nil {
		if errors.Is(err, provider.ErrSymbolNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch history for " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"period": period,
		"data":   candles,
	})
}

// GetIndices handles GET /api/v1/market/indices
func (mc *MarketController) GetIndices(c *gin.Context) {
	indices, err := mc.quotes.GetIndices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch market indices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": indices})
}

// GetTrending handles GET /api/v1/market/trending
func (mc *MarketController) GetTrending(c *gin.Context) {
	quotes, err := mc.quotes.GetTrending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch trending stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quotes})
}

// StreamStatus handles GET /api/v1/stream/status
func (mc *MarketController) StreamStatus(c *gin.Context) {
	status := mc.stream.Status()
	status["fanout_interval_sec"] = config.AppConfig.FanoutIntervalSec
	c.JSON(http.StatusOK, status)
}
