package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the watchlist over HTTP",
	Long:  "Starts the HTTP API: POST /v1/reports scores an uploaded metrics table, GET /v1/runs lists saved runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		pipe, err := initPipeline(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(pipe, serverOptions())
		zap.L().Info("serve: starting",
			zap.Int("port", port),
			zap.Bool("run_history", st != nil),
		)
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func serverOptions() server.Options {
	return server.Options{
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
