package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"ghostrider/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your GhostRider installation",
		Long: `Verifies that GhostRider's configuration, platforms and database
are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("GhostRider Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'ghostrider init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Database writable
			if err := checkDatabase(cfg.Storage.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Storage.DBPath)
				passed++
			}

			// 4. Token encryption key
			if cfg.Storage.EncryptionKey == "" {
				printWarn("Encryption key", "not set; stored OAuth tokens will not survive restarts")
				warned++
			} else {
				printPass("Encryption key", "configured")
				passed++
			}

			// 5. Enabled platforms
			platformCount := 0
			p := cfg.Platforms
			if p.SMS.Enabled {
				platformCount++
				printPass("Platform: sms", "device "+p.SMS.DeviceID)
				passed++
			}
			if p.Slack.Enabled {
				platformCount++
				if len(p.Slack.Channels) == 0 {
					printWarn("Platform: slack", "no channels configured, nothing will be polled")
					warned++
				} else {
					printPass("Platform: slack", fmt.Sprintf("%d channel(s)", len(p.Slack.Channels)))
					passed++
				}
			}
			if p.Discord.Enabled {
				platformCount++
				printPass("Platform: discord", "configured")
				passed++
			}
			if p.Gmail.Enabled {
				platformCount++
				if cfg.Platforms.Gmail.RedirectURI == "" {
					printWarn("Platform: gmail", "no redirectUri; run the web server OAuth flow to link an account")
					warned++
				} else {
					printPass("Platform: gmail", "configured")
					passed++
				}
			}
			if platformCount == 0 {
				printFail("Platforms", "no platforms enabled")
				failed++
			}

			// 6. Web port
			if cfg.Web.Enabled {
				if err := checkPort(cfg.Web.Port); err != nil {
					printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Web.Port, err))
					warned++
				} else {
					printPass("Web port", fmt.Sprintf(":%d available", cfg.Web.Port))
					passed++
				}
			}

			// 7. Rules file parses
			if cfg.Processing.RulesPath != "" {
				if _, err := os.Stat(config.ExpandPath(cfg.Processing.RulesPath)); err != nil {
					printFail("Rules file", fmt.Sprintf("not found: %s", cfg.Processing.RulesPath))
					failed++
				} else {
					printPass("Rules file", cfg.Processing.RulesPath)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running GhostRider.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nGhostRider should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! GhostRider is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
