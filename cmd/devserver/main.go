// ledgerview devserver - local stand-in backend for development
package main

import (
	"os"
	"time"

	"github.com/mbd888/ledgerview/internal/devserver"
	"github.com/mbd888/ledgerview/internal/logging"
	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
)

func main() {
	logger := logging.New("debug", "text")

	addr := os.Getenv("DEVSERVER_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8089"
	}

	srv := devserver.New(logger)
	srv.Seed("dev@example.com", "password", session.RoleUser)
	srv.SetBalance("dev@example.com", "BTC", 150_000_000)
	srv.SetBalance("dev@example.com", "USD", 42_000_00)

	// Emit a scripted stream of push events so a connected syncd has
	// something to reconcile.
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		amount := int64(150_000_000)
		for range ticker.C {
			amount += 1_000_000
			now := time.Now().UnixMilli()
			srv.SetBalance("dev@example.com", "BTC", amount)
			srv.PushBalance(map[state.Currency]int64{"BTC": amount}, now)
		}
	}()

	logger.Info("devserver listening", "addr", addr)
	if err := srv.Run(addr); err != nil {
		logger.Error("devserver failed", "error", err)
		os.Exit(1)
	}
}
