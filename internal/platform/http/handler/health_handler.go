// Package handler はプラットフォームレベルのエンドポイント用HTTPハンドラーを提供します。
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler は /healthz のライブネス応答を返します。
type HealthHandler struct {
	version string
	started time.Time
	now     func() time.Time
}

func NewHealthHandler(version string) *HealthHandler {
	now := time.Now
	return &HealthHandler{version: version, started: now(), now: now}
}

// Health はHEADに200、OPTIONSに204、それ以外にJSONを返します。キャッシュは常に無効です。
func (h *HealthHandler) Health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	switch c.Request.Method {
	case http.MethodHead:
		c.Status(http.StatusOK)
	case http.MethodOptions:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"version":        h.version,
			"uptime_seconds": int64(h.now().Sub(h.started).Seconds()),
		})
	}
}
