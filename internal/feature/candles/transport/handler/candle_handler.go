// Package handler はcandlesフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/transport/http/dto"
	"twstock_backend/internal/feature/candles/usecase"

	"github.com/gin-gonic/gin"
)

// HistoricalUsecase はローソク足取得のユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type HistoricalUsecase interface {
	GetHistorical(ctx context.Context, symbol string, from, to entity.Date) ([]entity.Candle, error)
	GetCached(ctx context.Context, symbol string, from, to entity.Date) ([]entity.Candle, error)
}

// CandlesHandler はローソク足データのHTTPリクエストを処理します。
type CandlesHandler struct {
	uc HistoricalUsecase
}

func NewCandlesHandler(uc HistoricalUsecase) *CandlesHandler {
	return &CandlesHandler{uc: uc}
}

// GetHistorical は不足区間を上流から補完したうえで日足を返します。
//
// エンドポイント例:
// GET /candles/2330/historical?from=2024-01-01&to=2024-03-31
func (h *CandlesHandler) GetHistorical(c *gin.Context) {
	symbol := c.Param("symbol")
	from, to, err := parseRange(c, true)
	if err != nil {
		writeError(c, symbol, err)
		return
	}

	candles, err := h.uc.GetHistorical(c.Request.Context(), symbol, from, to)
	if err != nil {
		writeError(c, symbol, err)
		return
	}

	c.JSON(http.StatusOK, dto.Envelope{
		Status:  dto.StatusSuccess,
		Data:    toResponse(candles),
		Message: fmt.Sprintf("fetched %d candles for %s from %s to %s", len(candles), symbol, from, to),
	})
}

// GetCached はローカルに保存済みの日足のみを返します。上流へは問い合わせません。
// from / to は省略可能で、省略時は保存済み系列の端を使います。
//
// エンドポイント例:
// GET /twstock/0050/historical
func (h *CandlesHandler) GetCached(c *gin.Context) {
	symbol := c.Param("symbol")
	from, to, err := parseRange(c, false)
	if err != nil {
		writeError(c, symbol, err)
		return
	}

	candles, err := h.uc.GetCached(c.Request.Context(), symbol, from, to)
	if err != nil {
		writeError(c, symbol, err)
		return
	}

	c.JSON(http.StatusOK, dto.Envelope{
		Status:  dto.StatusSuccess,
		Data:    toResponse(candles),
		Message: fmt.Sprintf("read %d cached candles for %s", len(candles), symbol),
	})
}

// parseRange は from/to（または from_date/to_date）を読み取ります。
func parseRange(c *gin.Context, required bool) (entity.Date, entity.Date, error) {
	from, err := queryDate(c, "from", "from_date", required)
	if err != nil {
		return entity.Date{}, entity.Date{}, err
	}
	to, err := queryDate(c, "to", "to_date", required)
	if err != nil {
		return entity.Date{}, entity.Date{}, err
	}
	return from, to, nil
}

func queryDate(c *gin.Context, key, alias string, required bool) (entity.Date, error) {
	raw := c.Query(key)
	if raw == "" {
		raw = c.Query(alias)
	}
	if raw == "" {
		if required {
			return entity.Date{}, fmt.Errorf("%w: %s is required", usecase.ErrInvalidRange, key)
		}
		return entity.Date{}, nil
	}
	d, err := entity.ParseDate(raw)
	if err != nil {
		return entity.Date{}, fmt.Errorf("%w: %s: %v", usecase.ErrInvalidRange, key, err)
	}
	return d, nil
}

func toResponse(candles []entity.Candle) []dto.CandleResponse {
	out := make([]dto.CandleResponse, 0, len(candles))
	for _, x := range candles {
		out = append(out, dto.CandleResponse{
			Date:      x.Date.String(),
			Open:      x.Open,
			High:      x.High,
			Low:       x.Low,
			Close:     x.Close,
			Volume:    x.Volume,
			Turnover:  x.Turnover,
			Change:    x.Change,
			ChangePct: x.ChangePct,
		})
	}
	return out
}

// errorStatus はユースケースのエラーをHTTPステータスとエラー種別に対応付けます。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, usecase.ErrInvalidSymbol):
		return http.StatusBadRequest, "invalid_symbol"
	case errors.Is(err, usecase.ErrNotCached):
		return http.StatusNotFound, "not_cached"
	case errors.Is(err, usecase.ErrRateLimit):
		return http.StatusTooManyRequests, "rate_limit"
	case errors.Is(err, usecase.ErrAuth):
		return http.StatusBadGateway, "auth"
	case errors.Is(err, usecase.ErrUpstreamData):
		return http.StatusBadGateway, "upstream_data"
	case errors.Is(err, usecase.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "network"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, symbol string, err error) {
	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("candles request failed", "symbol", symbol, "kind", kind, "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, dto.Envelope{
		Status:    dto.StatusError,
		Data:      nil,
		Message:   err.Error(),
		ErrorKind: kind,
	})
}
