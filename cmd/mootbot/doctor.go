package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"mootbot/internal/config"
	"mootbot/internal/prompts"
	"mootbot/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and connectivity problems",
		RunE:  runDoctor,
	}
}

type check struct {
	name string
	fn   func(ctx context.Context, cfg *config.Config) error
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("mootbot doctor")
	fmt.Println()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  [FAIL] config: %v\n", err)
		fmt.Println("\nRun 'mootbot init' to create a default config.")
		return fmt.Errorf("config unusable")
	}
	fmt.Printf("  [ OK ] config loads and validates (%s)\n", cfgPath)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	checks := []check{
		{"credentials", checkDoctorCredentials},
		{"database path", checkDatabasePath},
		{"prompts", checkPrompts},
		{"provider", checkProvider},
	}
	if cfg.Registration.Enabled {
		checks = append(checks, check{"smtp", checkSMTP})
	}

	failed := 0
	for _, c := range checks {
		if err := c.fn(ctx, cfg); err != nil {
			fmt.Printf("  [FAIL] %s: %v\n", c.name, err)
			failed++
		} else {
			fmt.Printf("  [ OK ] %s\n", c.name)
		}
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	fmt.Println("All checks passed.")
	return nil
}

func checkDoctorCredentials(ctx context.Context, cfg *config.Config) error {
	return checkCredentials(cfg)
}

// checkDatabasePath verifies the SQLite directory exists or can be created
// and is writable.
func checkDatabasePath(ctx context.Context, cfg *config.Config) error {
	dbPath := config.ExpandPath(cfg.Store.DBPath)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	os.Remove(probe)
	return nil
}

func checkPrompts(ctx context.Context, cfg *config.Config) error {
	set, err := prompts.Load(config.ExpandPath(cfg.Prompts.Path), logger)
	if err != nil {
		return err
	}
	if set.General == "" || set.StageOne == "" || set.StageTwo == "" || set.StageThree == "" {
		return fmt.Errorf("one or more prompts are empty")
	}
	return nil
}

func checkProvider(ctx context.Context, cfg *config.Config) error {
	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.DefaultProvider()
	if err != nil {
		return err
	}
	if err := prov.Healthy(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", prov.Name(), err)
	}
	return nil
}

// checkSMTP only verifies TCP reachability; full auth happens when the
// first verification mail is sent.
func checkSMTP(ctx context.Context, cfg *config.Config) error {
	addr := fmt.Sprintf("%s:%d", cfg.Registration.SMTP.Host, cfg.Registration.SMTP.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", addr, err)
	}
	conn.Close()
	return nil
}
