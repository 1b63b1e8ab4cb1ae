package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/audit"
	"github.com/ziadkadry99/biblioteca/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the biblioteca HTTP server: library management, semantic search,
the ask endpoint (library and analysis modes) and its websocket variant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv := server.New(server.Config{
			Port:           port,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			RequestTimeout: a.cfg.Server.RequestTimeout,
			IngestTimeout:  a.cfg.Server.IngestTimeout,
		}, a.guard, a.library, a.dispatcher, a.db, a.logger.Named("http"))
		audit.RegisterRoutes(srv.Router(), a.journal, a.guard)

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("shutdown", zap.Error(err))
			}
		}()

		total, _ := a.library.Catalog(ctx)
		indexed, _ := a.index.Count(ctx)
		a.logger.Info("biblioteca starting",
			zap.String("version", Version),
			zap.String("database", a.db.Path()),
			zap.String("vector_backend", a.cfg.VectorStore.Backend),
			zap.String("embedding_model", a.embedder.Name()),
			zap.Int("documents", len(total)),
			zap.Int("chunks", indexed))

		if stale, err := a.library.StaleDocuments(ctx); err == nil && len(stale) > 0 {
			a.logger.Warn("documents embedded with another model are not searchable; run `biblioteca reindex`",
				zap.Int("stale", len(stale)))
		}

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
