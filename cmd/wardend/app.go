package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/obyrne/wardend/internal/config"
	"github.com/obyrne/wardend/internal/procwatch"
	"github.com/obyrne/wardend/internal/storage"
	"github.com/obyrne/wardend/internal/storage/bolt"
)

var (
	appBlockReason string
	appLimit       string
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage the monitored-application list",
	Long: `Manage the monitored-application list. Changes take effect when the
daemon starts; a running daemon applies them on its next restart.`,
}

var appBlockCmd = &cobra.Command{
	Use:     "block NAME",
	Short:   "Block an application by process name",
	Example: `  wardend app block game.exe --reason "homework time"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAppBlock,
}

var appUnblockCmd = &cobra.Command{
	Use:   "unblock NAME",
	Short: "Set an application back to allowed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppUnblock,
}

var appLimitCmd = &cobra.Command{
	Use:     "limit NAME",
	Short:   "Set a daily time limit for an application",
	Example: `  wardend app limit game.exe --daily 1h30m`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAppLimit,
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored applications",
	RunE:  runAppList,
}

func init() {
	appBlockCmd.Flags().StringVar(&appBlockReason, "reason", "", "Reason for blocking")
	appLimitCmd.Flags().StringVar(&appLimit, "daily", "", "Daily time budget, e.g. 1h30m (required)")
	_ = appLimitCmd.MarkFlagRequired("daily")

	appCmd.AddCommand(appBlockCmd)
	appCmd.AddCommand(appUnblockCmd)
	appCmd.AddCommand(appLimitCmd)
	appCmd.AddCommand(appListCmd)
	rootCmd.AddCommand(appCmd)
}

func openAppStore() (storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return bolt.Open(cfg.Storage.Path)
}

// upsertApp applies a mutation to the named application, creating it first
// if needed.
func upsertApp(name string, mutate func(*storage.MonitoredApplication)) error {
	key := procwatch.NormalizeName(name)
	if key == "" {
		return fmt.Errorf("empty application name")
	}

	store, err := openAppStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now()

	app, err := store.Apps().Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		app = &storage.MonitoredApplication{
			Name:        key,
			DisplayName: name,
			Status:      storage.StatusAllowed,
			UsageDate:   now.Format(storage.DateKey),
			CreatedAt:   now,
		}
	} else if err != nil {
		return err
	}

	mutate(app)
	app.UpdatedAt = now
	return store.Apps().Upsert(ctx, *app)
}

func runAppBlock(cmd *cobra.Command, args []string) error {
	err := upsertApp(args[0], func(app *storage.MonitoredApplication) {
		app.Status = storage.StatusBlocked
		app.BlockReason = appBlockReason
	})
	if err != nil {
		return err
	}
	color.New(color.FgRed, color.Bold).Printf("Blocked %s\n", procwatch.NormalizeName(args[0]))
	return nil
}

func runAppUnblock(cmd *cobra.Command, args []string) error {
	err := upsertApp(args[0], func(app *storage.MonitoredApplication) {
		app.Status = storage.StatusAllowed
		app.BlockReason = ""
	})
	if err != nil {
		return err
	}
	color.New(color.FgGreen, color.Bold).Printf("Unblocked %s\n", procwatch.NormalizeName(args[0]))
	return nil
}

func runAppLimit(cmd *cobra.Command, args []string) error {
	limit, err := time.ParseDuration(appLimit)
	if err != nil || limit < 0 {
		return fmt.Errorf("invalid daily limit: %s", appLimit)
	}

	err = upsertApp(args[0], func(app *storage.MonitoredApplication) {
		app.Status = storage.StatusTimeLimited
		app.DailyLimitSeconds = int64(limit.Seconds())
		if limit == 0 {
			app.Status = storage.StatusAllowed
		}
	})
	if err != nil {
		return err
	}
	color.New(color.FgYellow, color.Bold).Printf("Limited %s to %s per day\n", procwatch.NormalizeName(args[0]), limit)
	return nil
}

func runAppList(cmd *cobra.Command, args []string) error {
	store, err := openAppStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apps, err := store.Apps().List(context.Background())
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		fmt.Println("No applications monitored.")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Printf("%-25s %-14s %-12s %-12s %s\n", "NAME", "STATUS", "DAILY LIMIT", "USED TODAY", "REASON")
	for _, app := range apps {
		limit := "-"
		if app.DailyLimitSeconds > 0 {
			limit = app.DailyLimit().String()
		}
		used := (time.Duration(app.UsedTodaySeconds) * time.Second).String()
		fmt.Printf("%-25s %-14s %-12s %-12s %s\n",
			app.Name, strings.ToLower(string(app.Status)), limit, used, app.BlockReason)
	}
	return nil
}
