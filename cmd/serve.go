// cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/observability"
	"github.com/markb/chatsync/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatsync hub server",
	Long:  `Starts the WebSocket hub with presence, typing, messaging and call session endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		host, _ := cmd.Flags().GetString("host")
		jwtSecret := os.Getenv("CHATSYNC_JWT_SECRET")

		if jwtSecret == "" {
			fmt.Println("Warning: No JWT secret set; token validation is disabled. Set CHATSYNC_JWT_SECRET in production.")
		}

		logConfig := buildLogConfig(cmd)
		if err := log.Init(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		// Initialize telemetry (no-op unless an exporter is configured)
		otelConfig := buildOtelConfig(cmd)
		var tel *observability.Telemetry
		if otelConfig.Enabled() {
			t, cleanup, err := observability.Init(cmd.Context(), otelConfig)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer cleanup()
			tel = t
		}

		srv := server.New(server.ServerConfig{
			JWTSecret: jwtSecret,
			Telemetry: tel,
		})

		addr := fmt.Sprintf("%s:%d", host, port)

		// Handle graceful shutdown
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		httpsDomain, _ := cmd.Flags().GetString("https-domain")
		go func() {
			if httpsDomain != "" {
				certDir, _ := cmd.Flags().GetString("https-cert-dir")
				httpAddr, _ := cmd.Flags().GetString("https-http-addr")
				fmt.Printf("Starting chatsync on https://%s\n", httpsDomain)
				errCh <- srv.ListenAndServeTLS(addr, server.HTTPSConfig{
					Domain:   httpsDomain,
					CertDir:  certDir,
					HTTPAddr: httpAddr,
				})
			} else {
				fmt.Printf("Starting chatsync on %s\n", addr)
				fmt.Printf("  WebSocket: ws://%s/sync/v1/ws\n", addr)
				fmt.Printf("  Stats:     http://%s/sync/v1/stats\n", addr)
				errCh <- srv.ListenAndServe(addr)
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-sigCh:
			fmt.Println("\nShutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

// buildLogConfig creates a log.Config from environment variables and CLI flags.
// Priority: CLI flags > environment variables > defaults
func buildLogConfig(cmd *cobra.Command) *log.Config {
	cfg := log.DefaultConfig()

	if mode := os.Getenv("CHATSYNC_LOG_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if level := os.Getenv("CHATSYNC_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("CHATSYNC_LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	if path := os.Getenv("CHATSYNC_LOG_FILE"); path != "" {
		cfg.FilePath = path
	}
	if path := os.Getenv("CHATSYNC_LOG_DB"); path != "" {
		cfg.DBPath = path
	}

	if mode, _ := cmd.Flags().GetString("log-mode"); mode != "" {
		cfg.Mode = mode
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Format = format
	}

	return cfg
}

// buildOtelConfig creates an observability.Config from environment variables
// and CLI flags.
func buildOtelConfig(cmd *cobra.Command) *observability.Config {
	cfg := observability.NewConfig()

	if exporter := os.Getenv("CHATSYNC_OTEL_EXPORTER"); exporter != "" {
		cfg.Exporter = exporter
	}
	if endpoint := os.Getenv("CHATSYNC_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}

	if exporter, _ := cmd.Flags().GetString("otel-exporter"); exporter != "" {
		cfg.Exporter = exporter
	}
	if endpoint, _ := cmd.Flags().GetString("otel-endpoint"); endpoint != "" {
		cfg.Endpoint = endpoint
	}

	return cfg
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("log-mode", "", "Log mode: console, file, or database (default: console)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, or error (default: info)")
	serveCmd.Flags().String("log-format", "", "Log format: text or json (default: text)")
	serveCmd.Flags().String("otel-exporter", "", "OpenTelemetry exporter: none, stdout, or otlp (default: none)")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP endpoint (default: localhost:4317)")
	serveCmd.Flags().String("https-domain", "", "Serve HTTPS with a Let's Encrypt certificate for this domain")
	serveCmd.Flags().String("https-cert-dir", "certs", "Directory to cache Let's Encrypt certificates")
	serveCmd.Flags().String("https-http-addr", ":80", "HTTP address for ACME challenges and redirects")
}
