package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("askdb doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	config.LoadDotenv()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Database
	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(cfg)

	// Providers
	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	fmt.Printf("    %-12s %s (model: %s)\n", "Active:", cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model)

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	// Gateway
	fmt.Println()
	fmt.Println("  Gateway:")
	host := cfg.Gateway.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	fmt.Printf("    %-12s %s:%d", "Address:", cfg.Gateway.Host, cfg.Gateway.Port)
	if isGatewayRunning(addr) {
		fmt.Println(" (listening)")
	} else {
		fmt.Println(" (not running)")
	}
	if cfg.Gateway.Token != "" {
		fmt.Printf("    %-12s token required\n", "Auth:")
	} else {
		fmt.Printf("    %-12s OPEN (set ASKDB_GATEWAY_TOKEN or run: askdb onboard)\n", "Auth:")
	}

	// Exports
	fmt.Println()
	dir := cfg.ExportDir()
	fmt.Printf("  Exports:  %s", dir)
	if entries, err := os.ReadDir(dir); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		n := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".csv") {
				n++
			}
		}
		fmt.Printf(" (%d CSV files)\n", n)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// checkDatabase reports driver, location, schema version, and row count.
// For sqlite it refuses to touch a missing file, since opening one
// would create it as a side effect.
func checkDatabase(cfg *config.Config) {
	fmt.Printf("    %-12s %s\n", "Driver:", nonEmpty(cfg.Database.Driver, "sqlite"))

	switch cfg.Database.Driver {
	case "", "sqlite":
		path := cfg.SQLitePath()
		fmt.Printf("    %-12s %s", "Path:", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (NOT FOUND, run: askdb onboard)")
			return
		}
		fmt.Println(" (OK)")
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			fmt.Printf("    %-12s ASKDB_POSTGRES_DSN not set\n", "DSN:")
			return
		}
		fmt.Printf("    %-12s (set)\n", "DSN:")
	default:
		fmt.Printf("    %-12s unknown driver %q\n", "Status:", cfg.Database.Driver)
		return
	}

	db, err := database.Open(cfg)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var version uint64
	var dirty bool
	if err := db.Conn().QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty); err != nil {
		fmt.Printf("    %-12s none applied (run: askdb migrate up)\n", "Schema:")
	} else if dirty {
		fmt.Printf("    %-12s v%d (DIRTY, run: askdb migrate force %d)\n", "Schema:", version, version-1)
	} else {
		fmt.Printf("    %-12s v%d\n", "Schema:", version)
	}

	var count int
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+db.Table()).Scan(&count); err != nil {
		fmt.Printf("    %-12s table %s missing (run: askdb migrate up)\n", "Table:", db.Table())
	} else {
		fmt.Printf("    %-12s %s (%d rows)\n", "Table:", db.Table(), count)
		if count == 0 {
			fmt.Printf("    %-12s empty (run: askdb seed)\n", "Data:")
		}
	}
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := "(set)"
	if len(apiKey) >= 12 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
