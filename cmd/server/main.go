// Package main provides the entry point for the quant core server: the
// cointegration and pairs engine, Kelly position sizing and the backtest
// engine behind an HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keplerlabs/quant-core/internal/api"
	"github.com/keplerlabs/quant-core/internal/data"
	"github.com/keplerlabs/quant-core/pkg/types"
)

func main() {
	configFile := flag.String("config", "", "Config file (optional)")
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 8080, "Server port")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configFile, *host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(viper.GetString("log.level"), *logLevel)
	defer logger.Sync()

	logger.Info("starting quant core server",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	store := data.NewStore(logger)
	server := api.NewServer(logger, cfg, store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Host, cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Host, cfg.Port, cfg.WebSocketPath)),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// loadConfig layers defaults, an optional config file, QUANTCORE_*
// environment variables and command-line flags, in rising precedence.
func loadConfig(configFile, host string, port int) (*types.ServerConfig, error) {
	viper.SetDefault("server.host", host)
	viper.SetDefault("server.port", port)
	viper.SetDefault("server.websocket_path", "/ws")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.max_connections", 100)
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("log.level", "")

	viper.SetEnvPrefix("QUANTCORE")
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &types.ServerConfig{
		Host:           viper.GetString("server.host"),
		Port:           viper.GetInt("server.port"),
		WebSocketPath:  viper.GetString("server.websocket_path"),
		ReadTimeout:    viper.GetDuration("server.read_timeout"),
		WriteTimeout:   viper.GetDuration("server.write_timeout"),
		MaxConnections: viper.GetInt("server.max_connections"),
		EnableMetrics:  viper.GetBool("server.enable_metrics"),
	}, nil
}

func setupLogger(configLevel, flagLevel string) *zap.Logger {
	level := flagLevel
	if configLevel != "" {
		level = configLevel
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
