package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/aquamarinepk/aqm"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/app"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/auth"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/demo"
)

const (
	appName    = "tableorder-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	command := os.Args[1]
	switch command {
	case "seed-demo", "clear-demo":
		runDemo(command)

	case "hash-password":
		hash, err := hashPassword(os.Args[2:])
		if err != nil {
			log.Fatalf("❌ Cannot hash password: %v", err)
		}
		fmt.Println(hash)

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runDemo(command string) {
	config, err := aqm.LoadConfig("UTILS", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel := config.GetStringOrDef("log.level", "info")
	logger := aqm.NewLogger(logLevel)

	b, err := app.OpenBackend(config, logger)
	if err != nil {
		log.Fatalf("❌ Cannot open backend: %v", err)
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		log.Fatalf("❌ Cannot start backend: %v", err)
	}
	defer func() {
		if err := b.Stop(ctx); err != nil {
			logger.Errorf("Cannot stop backend: %v", err)
		}
	}()

	opts := demoOptions(config)
	switch command {
	case "seed-demo":
		if err := demo.Seed(ctx, b.Store, opts, logger); err != nil {
			log.Fatalf("❌ Demo seeding failed: %v", err)
		}
		logger.Info("✅ Demo seeding completed successfully", "staff", opts.StaffEmail)

	case "clear-demo":
		if err := demo.Clear(ctx, b.Store, opts, logger); err != nil {
			log.Fatalf("❌ Clear demo data failed: %v", err)
		}
		logger.Info("✅ Demo data cleared successfully")
	}
}

func demoOptions(config *aqm.Config) demo.Options {
	opts := demo.DefaultOptions()
	if n, err := strconv.Atoi(config.GetStringOrDef("demo.tables", "")); err == nil && n > 0 {
		opts.Tables = n
	}
	opts.StaffEmail = config.GetStringOrDef("demo.staff.email", opts.StaffEmail)
	opts.StaffName = config.GetStringOrDef("demo.staff.name", opts.StaffName)
	opts.StaffPassword = config.GetStringOrDef("demo.staff.password", opts.StaffPassword)
	return opts
}

// hashPassword takes the password from args or, when absent, from stdin.
func hashPassword(args []string) (string, error) {
	var plain string
	if len(args) > 0 {
		plain = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("cannot read password: %w", err)
		}
		plain = strings.TrimRight(line, "\r\n")
	}
	if plain == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return auth.HashPassword(plain, bcrypt.DefaultCost)
}

func printUsage() {
	fmt.Printf(`%s - table ordering utility commands

Usage:
  %s <command> [options]

Commands:
  seed-demo      Seed tables, menu, settings, demo orders and a staff account
  clear-demo     Remove the demo menu, orders and staff account
  hash-password  Print a bcrypt hash for a staff password (argument or stdin)
  version        Print version information
  help           Show this help message

Environment Variables:
  UTILS_BACKEND_DRIVER       memory, rest, postgres, mysql or mongo (default: memory)
  UTILS_DB_POSTGRES_DSN      PostgreSQL DSN
  UTILS_DB_MYSQL_DSN         MySQL DSN (needs parseTime=true)
  UTILS_DB_MONGO_URL         MongoDB URL (default: mongodb://localhost:27017)
  UTILS_DB_MEMORY_SNAPSHOT   Snapshot file for the memory driver
  UTILS_DEMO_STAFF_EMAIL     Staff account email (default: staff@example.com)
  UTILS_DEMO_STAFF_PASSWORD  Staff account password (default: changeme)
  UTILS_LOG_LEVEL            Log level: debug, info, warn, error (default: info)

Examples:
  %s seed-demo
  UTILS_BACKEND_DRIVER=postgres UTILS_DB_MIGRATE=true %s seed-demo
  echo 's3cret' | %s hash-password

`, appName, appName, appName, appName, appName)
}
