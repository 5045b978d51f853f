// Command chartexport-server is the HTTP entrypoint over the export core,
// wiring the three §6 endpoints onto a gorilla/mux router.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"chartexport/internal/config"
	"chartexport/internal/export"
	"chartexport/internal/httpapi"
	"chartexport/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("chartexport-server", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a JSON config file; environment variables and CLI flags override it")
	// Named with the koanf dotted key it maps onto, so posflag.Provider
	// merges it straight into http.port; left at its zero value it is
	// unchanged and the provider falls back to whatever loaded already.
	flags.Int("http.port", 0, "override http.port")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 1
	}

	loaderOpts := []config.LoaderOption{config.WithFlags(flags)}
	if *configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(*configFile))
	}

	cfg, err := config.NewLoader(loaderOpts...).Load()
	if err != nil {
		os.Stderr.WriteString("chartexport-server: config: " + err.Error() + "\n")
		return 1
	}

	var wsSink *logging.WebsocketSink
	if cfg.Log.WebsocketEnable {
		wsSink = logging.NewWebsocketSink()
	}
	logging.InitWithConfig(logging.Config{
		Level:         cfg.Log.Level,
		Format:        cfg.Log.Format,
		FilePath:      cfg.Log.FilePath,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
		MaxAgeDays:    cfg.Log.MaxAgeDays,
		Compress:      cfg.Log.Compress,
		WebsocketSink: wsSink,
	})
	log := logging.Log

	if wsSink != nil {
		go serveWebsocketSink(wsSink, cfg.Log.WebsocketPort, log)
	}

	orch := export.NewOrchestrator(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.CreateTimeout*time.Duration(cfg.Pool.Max+1))
	err = orch.InitExport(ctx)
	cancel()
	if err != nil {
		log.Fatal("chartexport-server: init failed", "error", err)
		return 1
	}

	server := httpapi.NewServer(orch, cfg.Policy, cfg.HTTP.AdminToken, cfg.HTTP.MaxRequestBytes, cfg.IsDevelopment(), log)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Notice("chartexport-server: listening", "addr", cfg.HTTP.Address())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("chartexport-server: listener failed", "error", err)
		return 1
	case sig := <-quit:
		log.Notice("chartexport-server: received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warning("chartexport-server: forcing listener close", "error", err)
		_ = httpServer.Close()
	}

	orch.Shutdown(shutdownCtx)
	if wsSink != nil {
		_ = wsSink.Close()
	}

	log.Notice("chartexport-server: shutdown complete")
	return 0
}

func serveWebsocketSink(sink *logging.WebsocketSink, port int, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", sink.Serve)
	addr := ":" + strconv.Itoa(port)
	log.Notice("chartexport-server: log websocket listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Warning("chartexport-server: log websocket listener stopped", "error", err)
	}
}
