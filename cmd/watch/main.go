// Command watch follows a running grid over WebSocket and logs every
// broadcast. With -set it also submits one override on each connection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"edge_grid/internal/domain"
	"edge_grid/internal/infra"
	"edge_grid/internal/infra/feed"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	url := flag.String("url", "", "grid WebSocket URL (defaults to feed.url from the config)")
	set := flag.String("set", "", "override to submit on connect, as SYMBOL.field=value (empty value withdraws)")
	user := flag.String("user", "watch", "user id for -set")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("❌ Config failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.Logging.File = ""
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	target := cfg.Feed.URL
	if *url != "" {
		target = *url
	}

	var override *domain.ClientMessage
	if *set != "" {
		override, err = parseSet(*set, *user)
		if err != nil {
			logger.Error("❌ Invalid -set", slog.Any("error", err))
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var w *feed.Watcher
	w = feed.NewWatcher(target, feed.Options{
		BaseDelay:   time.Duration(cfg.Feed.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Feed.MaxDelayMS) * time.Millisecond,
		ReadTimeout: time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second,
		Logger:      logger,
		OnConnect: func() {
			if override == nil {
				return
			}
			if err := w.Send(override); err != nil {
				logger.Warn("override not sent", slog.Any("error", err))
			}
		},
	}, func(msgType string, payload []byte) {
		logMessage(logger, msgType, payload)
	})

	if err := w.Connect(ctx); err != nil {
		logger.Error("❌ Watch failed", slog.Any("error", err))
		os.Exit(1)
	}
	<-ctx.Done()
	w.Disconnect()
}

// parseSet turns SYMBOL.field=value into a cell update message.
func parseSet(s, user string) (*domain.ClientMessage, error) {
	target, value, ok := strings.Cut(s, "=")
	if !ok {
		return nil, fmt.Errorf("missing '=' in %q", s)
	}
	symbol, field, ok := strings.Cut(target, ".")
	if !ok || symbol == "" {
		return nil, fmt.Errorf("target %q is not SYMBOL.field", target)
	}
	if _, err := domain.ParseField(field); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if value == "" {
		raw = []byte("null")
	}
	return &domain.ClientMessage{Symbol: symbol, CellID: field, Value: raw, UserID: user}, nil
}

func logMessage(logger *slog.Logger, msgType string, payload []byte) {
	switch msgType {
	case domain.MsgCellUpdate, domain.MsgInitialData:
		var m struct {
			CellData domain.CellData `json:"cell_data"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			logger.Warn("undecodable cell data", slog.Any("error", err))
			return
		}
		for symbol, cells := range m.CellData {
			attrs := []any{slog.String("type", msgType), slog.String("symbol", symbol)}
			for _, f := range domain.AllFields {
				attrs = append(attrs, slog.Any(string(f), cells[f].Value))
			}
			logger.Info("cells", attrs...)
		}
	default:
		logger.Info("message", slog.String("type", msgType), slog.String("payload", string(payload)))
	}
}
