// Package router はHTTPルーティングを組み立てます。
package router

import (
	"log/slog"

	candleshandler "twstock_backend/internal/feature/candles/transport/handler"
	symbollisthandler "twstock_backend/internal/feature/symbollist/transport/handler"
	"twstock_backend/internal/platform/http/handler"
	"twstock_backend/internal/platform/http/middleware"
	jwtmw "twstock_backend/internal/platform/jwt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Options はルーター生成時の任意設定です。
type Options struct {
	// JWTSecret が空の場合、API は認証なしで公開されます。
	JWTSecret   string
	CORSOrigins []string
	Logger      *slog.Logger
}

func NewRouter(health *handler.HealthHandler, candles *candleshandler.CandlesHandler,
	symbol *symbollisthandler.SymbolHandler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(opts.Logger))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CORSOrigins,
			AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type", middleware.HeaderRequestID},
			ExposeHeaders: []string{middleware.HeaderRequestID},
		}))
	}

	// 認証不要
	r.GET("/healthz", health.Health)
	r.HEAD("/healthz", health.Health)

	api := r.Group("/")
	if opts.JWTSecret != "" {
		api.Use(jwtmw.AuthRequired(opts.JWTSecret))
	}
	{
		// 不足区間は上流から取得
		api.GET("/candles/:symbol/historical", candles.GetHistorical)
		// キャッシュのみ
		api.GET("/twstock/:symbol/historical", candles.GetCached)
		api.GET("/symbols", symbol.List)
	}

	return r
}
