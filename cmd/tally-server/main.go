// tally-server is the position loader daemon: it owns storage, the upstream
// Portfolio Manager client, the message bus, the scheduled jobs and a small
// health endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/tally/internal/app"
	"github.com/bobmcallan/tally/internal/common"
)

func main() {
	configPath := flag.String("config", "", "path to tally.toml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	application, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.StartScheduler(ctx)

	server := healthServer(application)
	go func() {
		application.Logger.Info().Str("addr", server.Addr).Msg("Health endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			application.Logger.Error().Err(err).Msg("Health server failed")
		}
	}()

	<-ctx.Done()
	application.Logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn().Err(err).Msg("Health server shutdown failed")
	}
}

func healthServer(application *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": common.GetVersion(),
			"uptime":  time.Since(application.StartupTime).String(),
		})
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("businessDate")
		if date == "" {
			date = common.Today()
		}
		progress := application.Operator.Progress(date)
		if progress == nil {
			http.Error(w, "no run for "+date, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(progress)
	})

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port),
		Handler: mux,
	}
}
