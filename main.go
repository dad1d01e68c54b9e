package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tealflight/tealflight/server"
)

// env returns the environment variable value or a default.
func env(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	configFile := flag.String("config", env("TEALFLIGHT_CONFIG", ""), "Path to YAML config file (env: TEALFLIGHT_CONFIG)")
	host := flag.String("host", "", "Host to bind to (env: TEALFLIGHT_HOST)")
	port := flag.Int("port", 0, "Port to listen on (env: TEALFLIGHT_PORT)")
	warehouse := flag.String("warehouse-path", "", "Directory for ingest output (env: TEALFLIGHT_WAREHOUSE)")
	dbPath := flag.String("db-path", "", "DuckDB database file, empty for in-memory (env: TEALFLIGHT_DB_PATH)")
	accessMode := flag.String("access-mode", "", "complete or restricted (env: TEALFLIGHT_ACCESS_MODE)")
	certFile := flag.String("cert", "", "TLS certificate file (env: TEALFLIGHT_CERT)")
	keyFile := flag.String("key", "", "TLS private key file (env: TEALFLIGHT_KEY)")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tealflight - Arrow Flight SQL server for DuckDB\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tealflight [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nPrecedence: CLI flags > environment variables > config file > defaults\n")
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	cfg := server.DefaultConfig()
	if *configFile != "" {
		loaded, err := server.LoadConfigFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config file: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Environment overrides config file, flags override everything.
	if v := os.Getenv("TEALFLIGHT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEALFLIGHT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TEALFLIGHT_WAREHOUSE"); v != "" {
		cfg.WarehousePath = v
	}
	if v := os.Getenv("TEALFLIGHT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TEALFLIGHT_ACCESS_MODE"); v != "" {
		cfg.AccessMode = server.AccessMode(v)
	}
	if v := os.Getenv("TEALFLIGHT_CERT"); v != "" {
		cfg.TLSCertFile = v
	}
	if v := os.Getenv("TEALFLIGHT_KEY"); v != "" {
		cfg.TLSKeyFile = v
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *warehouse != "" {
		cfg.WarehousePath = *warehouse
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *accessMode != "" {
		cfg.AccessMode = server.AccessMode(*accessMode)
	}
	if *certFile != "" {
		cfg.TLSCertFile = *certFile
	}
	if *keyFile != "" {
		cfg.TLSKeyFile = *keyFile
	}

	shutdownLogging := initLogging(cfg.OTLPEndpoint)
	defer shutdownLogging()

	if cfg.WarehousePath != "" {
		if err := os.MkdirAll(cfg.WarehousePath, 0o755); err != nil {
			slog.Error("Failed to create warehouse directory.", "error", err)
			os.Exit(1)
		}
	}
	if cfg.TLSCertFile != "" {
		if err := server.EnsureCertificates(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			slog.Error("Failed to ensure TLS certificates.", "error", err)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("Failed to create server.", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutting down.")
		srv.Shutdown()
		shutdownLogging()
		os.Exit(0)
	}()

	slog.Info("Starting Tealflight server.", "addr", srv.Addr(), "access_mode", string(cfg.AccessMode))
	if err := srv.Serve(); err != nil {
		slog.Error("Server error.", "error", err)
		os.Exit(1)
	}
}
