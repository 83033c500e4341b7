package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/huddle-chat/huddle/internal/client"
	"github.com/huddle-chat/huddle/internal/logging"
	"github.com/huddle-chat/huddle/internal/tui"
	"go.uber.org/zap"
)

func main() {
	configDir := flag.String("config-dir", "", "Configuration directory (default ~/.huddle)")
	serverAddr := flag.String("server", "", "Server address (overrides config)")
	themeName := flag.String("theme", "", "Theme name (overrides config)")
	logPath := flag.String("log", "", "Write logs to this file")
	logLevel := flag.String("log-level", "info", "Log level for --log")
	flag.Parse()

	configs, err := client.NewConfigManager(*configDir)
	if err != nil {
		log.Fatalf("Failed to open config: %v", err)
	}
	config, err := configs.Load()
	if err != nil {
		log.Printf("Warning: %v, using defaults", err)
		config = client.DefaultConfig()
	}

	// Apply command line overrides
	if *serverAddr != "" && *serverAddr != config.Server {
		config.Server = *serverAddr
		// tokens are issued per server
		config.Token = ""
	}
	if *themeName != "" {
		config.Theme = *themeName
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere
	logger := zap.NewNop()
	if *logPath != "" {
		if logger, err = logging.NewFile(*logPath, *logLevel); err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
	}
	defer logger.Sync()

	session, err := client.NewSession(config.SessionConfig(), logger)
	if err != nil {
		log.Fatalf("Invalid server address %q: %v", config.Server, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	themeDir := filepath.Join(filepath.Dir(configs.Path()), "themes")
	app := tui.NewApp(ctx, session, configs, config, themeDir, logger)

	p := tea.NewProgram(
		app,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
	session.Close()
}
