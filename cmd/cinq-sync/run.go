package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Whitemarmot/cinq-offline/internal/config"
	"github.com/Whitemarmot/cinq-offline/internal/db"
	"github.com/Whitemarmot/cinq-offline/internal/events"
	"github.com/Whitemarmot/cinq-offline/internal/logging"
	"github.com/Whitemarmot/cinq-offline/internal/server"
	"github.com/Whitemarmot/cinq-offline/internal/store"
	"github.com/Whitemarmot/cinq-offline/internal/syncer"
	"github.com/Whitemarmot/cinq-offline/internal/worker"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the offline core daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runDaemon(cfg)
	},
}

func runDaemon(cfg *config.Config) error {
	logging.Init(os.Stdout, logging.LevelInfo)

	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	bus := events.NewBus()

	st := store.New(database, bus)
	st.MaxRetries = cfg.Sync.MaxRetries

	engine := syncer.NewEngine(st, bus, &configTokenSource{auth: cfg.Auth}, syncer.Config{
		MessagesEndpoint: cfg.Endpoints.Messages,
		ActionBaseURL:    cfg.Endpoints.ActionBase,
		RequestTimeout:   cfg.RequestTimeout(),
		LeaseTTL:         cfg.LeaseTTL(),
	})

	scheduler := syncer.NewScheduler(engine, st, bus, syncer.SchedulerConfig{
		SyncInterval: cfg.SyncInterval(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	bridge := worker.NewBridge(scheduler)
	go bridge.Run(ctx, bus)

	if cfg.Endpoints.Probe != "" {
		go probeLoop(ctx, cfg, scheduler)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(st, scheduler, bridge.Handler()).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Offline core listening", map[string]interface{}{"addr": cfg.Server.Addr})
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// probeLoop detects connectivity transitions by fetching the probe URL
// and feeds them to the scheduler, which triggers a drain on restore.
func probeLoop(ctx context.Context, cfg *config.Config, scheduler *syncer.Scheduler) {
	client := &http.Client{Timeout: 5 * time.Second}

	ticker := time.NewTicker(cfg.ProbeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduler.SetOnline(ctx, probeOnce(ctx, client, cfg.Endpoints.Probe))
		}
	}
}

func probeOnce(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
