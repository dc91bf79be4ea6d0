package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dhtnode-go/internal/logging"
)

type Config struct {
	AppEnv     string
	LogLevel   slog.Level
	ConfigPath string // YAML node config; empty selects the embedded one
	Node       string
	Console    bool
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("DHTD_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid DHTD_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := logging.ParseLevel(os.Getenv("DHTD_LOG_LEVEL"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DHTD_LOG_LEVEL: %w", err)
	}

	node := strings.TrimSpace(os.Getenv("DHTD_NODE"))
	if node == "" {
		node = "rpi-dht"
	}

	console := false
	if s := strings.TrimSpace(os.Getenv("DHTD_CONSOLE")); s != "" {
		console, err = strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DHTD_CONSOLE %q: %w", s, err)
		}
	}

	return Config{
		AppEnv:     appEnv,
		LogLevel:   level,
		ConfigPath: strings.TrimSpace(os.Getenv("DHTD_CONFIG")),
		Node:       node,
		Console:    console,
	}, nil
}
