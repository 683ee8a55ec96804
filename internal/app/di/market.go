// Package di provides dependency injection factories for creating application components.
package di

import (
	"net/http"

	"twstock_backend/internal/platform/externalapi/fubon"
	infrahttp "twstock_backend/internal/platform/http"

	"github.com/redis/go-redis/v9"
)

// NewMarket creates the upstream session and the historical candle client.
// When a PFX certificate is configured the HTTP client presents it for mutual TLS.
func NewMarket(cfg fubon.Config, rdb *redis.Client) (*fubon.Client, *fubon.Session, error) {
	var httpClient *http.Client
	if cfg.PFXPath != "" {
		cert, err := fubon.LoadClientCertificate(cfg.PFXPath, cfg.PFXPassword)
		if err != nil {
			return nil, nil, err
		}
		httpClient = infrahttp.NewMTLSHTTPClient(cfg.Timeout, cert)
	} else {
		httpClient = infrahttp.NewHTTPClient(cfg.Timeout)
	}

	sess := fubon.NewSession(cfg, httpClient, NewTokenStore(rdb))
	return fubon.NewClient(cfg, httpClient, sess), sess, nil
}
