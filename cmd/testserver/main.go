// testserver starts an examlens API server backed by an in-process job queue
// for E2E testing. The queue is also served over HTTP so the API talks to it
// through the regular HTTP job service client.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/seantiz/examlens/internal/api"
	"github.com/seantiz/examlens/internal/dispatch"
	"github.com/seantiz/examlens/internal/engine"
	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
	"github.com/seantiz/examlens/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("EXAMLENS_LISTEN_ADDR"); v != "" {
		addr = v
	}
	queueAddr := "127.0.0.1:8081"
	if v := os.Getenv("EXAMLENS_QUEUE_ADDR"); v != "" {
		queueAddr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	queue := remote.NewMemoryService(remote.MemoryConfig{Name: "queue", Steps: 3, Batch: true})
	queueSrv := &http.Server{
		Addr:              queueAddr,
		Handler:           remote.NewHandler(queue),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := queueSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("queue server error: %v", err)
		}
	}()

	reg := remote.NewRegistry()
	reg.Register("http", remote.NewHTTPService(remote.HTTPConfig{
		Name:    "http",
		BaseURL: "http://" + queueAddr,
		RPS:     50,
	}))

	models := []model.ModelConfig{
		{ID: 1, Label: "gpt", Provider: "auto", ModelName: "gpt-test"},
		{ID: 2, Label: "claude", Provider: "auto", ModelName: "claude-test"},
	}

	planner := dispatch.NewPlanner(reg, db, logger)
	eng := engine.NewEngine(engine.Config{PollInterval: time.Second}, planner, reg, db, logger)
	eng.Start(context.Background())
	defer eng.Stop()

	srv := api.NewServer(addr, db, reg, eng, models, logger)

	logger.Info("testserver: starting", "addr", addr, "queue_addr", queueAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
