package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mulgadc/lister/s3"
)

func main() {

	config := flag.String("config", "", "S3 server configuration file")
	tlsKey := flag.String("tls-key", "", "Path to TLS key (plain HTTP when empty)")
	tlsCert := flag.String("tls-cert", "", "Path to TLS cert")
	basePath := flag.String("base-path", "", "Base path for relative paths in the config file")
	backendType := flag.String("backend", "", "Storage backend: memory, badger or filesystem")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	debug := flag.Bool("debug", false, "Enable verbose debug logs")
	port := flag.Int("port", 0, "Server port (default from config, 8443)")
	host := flag.String("host", "", "Server host (default from config, 0.0.0.0)")
	flag.Parse()

	// Env vars overwrite CLI options
	if os.Getenv("CONFIG") != "" {
		*config = os.Getenv("CONFIG")
	}

	if os.Getenv("TLS_KEY") != "" {
		*tlsKey = os.Getenv("TLS_KEY")
	}

	if os.Getenv("TLS_CERT") != "" {
		*tlsCert = os.Getenv("TLS_CERT")
	}

	if os.Getenv("BACKEND") != "" {
		*backendType = os.Getenv("BACKEND")
	}

	if os.Getenv("PORT") != "" {
		p, err := strconv.Atoi(os.Getenv("PORT"))
		if err != nil {
			slog.Error("Invalid PORT", "value", os.Getenv("PORT"), "error", err)
			os.Exit(2)
		}
		*port = p
	}

	srv, err := s3.NewServer(
		s3.WithConfigPath(*config),
		s3.WithBasePath(*basePath),
		s3.WithAddress(*host, *port),
		s3.WithTLS(*tlsCert, *tlsKey),
		s3.WithBackend(s3.BackendType(*backendType)),
		s3.WithMetricsAddr(*metricsAddr),
		s3.WithDebug(*debug),
	)
	if err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
