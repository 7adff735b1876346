// Package main implements the tzchat Telegram bot daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/codeGROOVE-dev/tzChat/pkg/bot"
	"github.com/codeGROOVE-dev/tzChat/pkg/convert"
	"github.com/codeGROOVE-dev/tzChat/pkg/geocode"
	"github.com/codeGROOVE-dev/tzChat/pkg/scanner"
	"github.com/codeGROOVE-dev/tzChat/pkg/store"
	"github.com/codeGROOVE-dev/tzChat/pkg/telegram"
	"github.com/codeGROOVE-dev/tzChat/pkg/wizard"
)

var (
	botToken   = flag.String("token", "", "Telegram bot token (or set TELEGRAM_BOT_TOKEN)")
	mapsAPIKey = flag.String("maps-key", "", "Google Maps API key for city lookup (or set GOOGLE_MAPS_API_KEY)")
	dataDir    = flag.String("data-dir", "", "Directory for the state snapshot (or set DATA_DIR)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("tzChat Server v1.0.0")
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *botToken == "" {
		*botToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if *botToken == "" {
		logger.Error("no Telegram token: set -token or TELEGRAM_BOT_TOKEN")
		os.Exit(1)
	}
	if *mapsAPIKey == "" {
		*mapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	}
	if *mapsAPIKey == "" {
		logger.Warn("no Maps API key: /add lookups will be unavailable")
	}
	if *dataDir == "" {
		*dataDir = os.Getenv("DATA_DIR")
	}
	if *dataDir == "" {
		if userCacheDir, err := os.UserCacheDir(); err == nil {
			*dataDir = filepath.Join(userCacheDir, "tzchat")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, *dataDir, logger)
	if err != nil {
		logger.Error("opening store", "error", err)
		os.Exit(1)
	}

	cityStore := store.NewCityStore(kv)
	pendingStore := store.NewPendingStore(kv, wizard.DefaultTTL)
	calendarStore := store.NewCalendarStore(kv)
	lookup := geocode.NewClient(*mapsAPIKey, nil, logger)

	wiz := wizard.New(cityStore, pendingStore, calendarStore, lookup, logger)
	engine := convert.New(scanner.New(logger), nil, logger)

	adapter, err := telegram.New(*botToken, logger)
	if err != nil {
		logger.Error("connecting to Telegram", "error", err)
		if closeErr := kv.Close(); closeErr != nil {
			logger.Error("closing store", "error", closeErr)
		}
		os.Exit(1)
	}

	b := bot.New(cityStore, calendarStore, wiz, engine, adapter, logger)

	logger.Info("tzchat running", "data_dir", *dataDir)
	if err := adapter.Run(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("update loop failed", "error", err)
	}

	if err := kv.Close(); err != nil {
		logger.Error("closing store", "error", err)
		os.Exit(1)
	}
}
