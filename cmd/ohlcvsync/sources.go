package main

import (
	"fmt"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"ohlcvsync/internal/config"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/gather/us"
)

// newSources builds the universe and history sources named in cfg.
func newSources(cfg *config.Config, log *slog.Logger) (gather.UniverseSource, gather.HistorySource, error) {
	var (
		trading *alpaca.Client
		data    *marketdata.Client
	)
	if cfg.Universe.Source == "alpaca" || cfg.History.Source == "alpaca" {
		trading, data = us.NewAlpacaClients(cfg.Alpaca)
	}
	h := cfg.History

	var universe gather.UniverseSource
	switch cfg.Universe.Source {
	case "listings":
		universe = us.NewListingSource(cfg.Universe.URLs, h.Timeout, h.RetryAttempts, h.RetryDelay, log)
	case "alpaca":
		universe = us.NewAlpacaUniverseSource(trading, h.RetryAttempts, h.RetryDelay, log)
	case "file":
		universe = us.NewFileUniverseSource(cfg.Universe.File, log)
	default:
		return nil, nil, fmt.Errorf("unknown universe source %q", cfg.Universe.Source)
	}

	var history gather.HistorySource
	switch h.Source {
	case "yahoo":
		history = us.NewYahooHistorySource(h.BaseURL, h.Timeout, h.RetryAttempts, h.RetryDelay, log)
	case "alpaca":
		history = us.NewAlpacaHistorySource(data, trading, cfg.Alpaca.Feed, h.RetryAttempts, h.RetryDelay, log)
	default:
		return nil, nil, fmt.Errorf("unknown history source %q", h.Source)
	}
	return universe, history, nil
}
