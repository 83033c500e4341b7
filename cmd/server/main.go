package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/huddle-chat/huddle/internal/database"
	"github.com/huddle-chat/huddle/internal/logging"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/server"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// stringList collects a repeatable flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	host := flag.String("host", "", "Host to bind to (overrides config)")
	port := flag.Int("port", 0, "Port to bind to (overrides config)")
	dbPath := flag.String("db", "", "Path to database file (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	seedTeam := flag.String("seed-team", "", "Create this team (if missing) before serving")
	var seedMembers stringList
	flag.Var(&seedMembers, "seed-member", "Email of a registered user to add to --seed-team (repeatable)")
	flag.Parse()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	// Detect first-run: no config file specified and default config file absent
	isFirstRun := *configPath == ""
	if isFirstRun {
		if _, err := os.Stat(configFilename); err == nil {
			isFirstRun = false
		}
	}

	var config *server.Config
	switch {
	case isFirstRun && os.Getenv("HUDDLE_JWT_SECRET") == "":
		config = runFirstRunSetup()
	case *configPath != "":
		c, err := server.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = c
	case !isFirstRun:
		c, err := server.LoadConfig(configFilename)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = c
	default:
		config = server.DefaultConfig()
	}

	// Apply environment and command line overrides
	if secret := os.Getenv("HUDDLE_JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}
	if *host != "" {
		config.Host = *host
	}
	if *port != 0 {
		config.Port = *port
	}
	if *dbPath != "" {
		config.DatabasePath = *dbPath
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	logger, err := logging.New(config.LogLevel, config.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	printBanner()

	srv, err := server.New(config, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	defer srv.Close()

	if *seedTeam != "" {
		if err := seed(srv.DB(), *seedTeam, seedMembers, logger); err != nil {
			logger.Fatal("failed to seed team", zap.String("team", *seedTeam), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// seed creates the named team if needed and adds each email's user as a
// member. The first member of a new team is its owner.
func seed(db *database.DB, name string, emails []string, logger *zap.Logger) error {
	team, err := db.GetTeamByName(name)
	if errors.Is(err, database.ErrNotFound) {
		team = models.NewTeam(name)
		if err := db.CreateTeam(team); err != nil {
			return err
		}
		logger.Info("team created", zap.String("team", name), zap.String("team_id", team.ID.String()))
	} else if err != nil {
		return err
	}

	for i, email := range emails {
		user, _, err := db.GetUserByEmail(email)
		if err != nil {
			return fmt.Errorf("look up %s: %w", email, err)
		}

		if _, err := db.GetMember(team.ID, user.ID); err == nil {
			if err := db.SetMemberStatus(team.ID, user.ID, models.MemberActive); err != nil {
				return err
			}
			continue
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		role := models.RoleMember
		if i == 0 && len(team.Members) == 0 {
			role = models.RoleOwner
		}
		if err := db.AddTeamMember(team.ID, models.NewMember(user, role)); err != nil {
			return fmt.Errorf("add %s: %w", email, err)
		}
		logger.Info("member added", zap.String("team", name), zap.String("email", email))
	}
	return nil
}

func printBanner() {
	banner := `
  _   _           _     _ _
 | | | |_   _  __| | __| | | ___
 | |_| | | | |/ _' |/ _' | |/ _ \
 |  _  | |_| | (_| | (_| | |  __/
 |_| |_|\__,_|\__,_|\__,_|_|\___|

  Team Room Server
  ================
`
	fmt.Println(banner)
}
