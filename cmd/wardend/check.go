package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/obyrne/wardend/internal/config"
	"github.com/obyrne/wardend/internal/hostsfile"
	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/storage/bolt"
)

var (
	checkUser string
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check enforcement decisions interactively",
	Long:  `Check what decisions wardend would make for a schedule query or a website lookup.`,
}

var checkScheduleCmd = &cobra.Command{
	Use:   "schedule [flags]",
	Short: "Check a schedule decision",
	Long:  `Check whether usage would be allowed for a user at a given day and time.`,
	Example: `  wardend -c config.yaml check schedule --user kid
  wardend check schedule --user kid --day monday --time 22:30`,
	RunE: runCheckSchedule,
}

var checkWebsiteCmd = &cobra.Command{
	Use:   "website DOMAIN",
	Short: "Check whether a website is blocked",
	Long:  `Check whether the hosts blocklist currently redirects the given domain.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckWebsite,
}

func init() {
	checkScheduleCmd.Flags().StringVar(&checkUser, "user", "", "User ID (required)")
	checkScheduleCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, ...) - defaults to current day")
	checkScheduleCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	_ = checkScheduleCmd.MarkFlagRequired("user")

	checkCmd.AddCommand(checkScheduleCmd)
	checkCmd.AddCommand(checkWebsiteCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckSchedule(cmd *cobra.Command, args []string) error {
	at, err := parseCheckTime(checkDay, checkTime)
	if err != nil {
		return fmt.Errorf("invalid time specification: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := bolt.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	evaluator := schedule.NewEvaluator(store.Schedules(), logger)
	decision, err := evaluator.IsAllowed(context.Background(), checkUser, at)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("SCHEDULE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("User:       %s\n", checkUser)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Allowed {
		green.Println("ALLOWED")
		if decision.RuleID == "" {
			fmt.Println("            → No rule covers this time (default allow)")
		}
		if decision.MaxDuration > 0 {
			fmt.Printf("            → Session capped at %s\n", decision.MaxDuration)
		}
	} else {
		red.Println("DENIED")
		fmt.Println("            → Session starts will be refused")
		fmt.Println("            → Active sessions will be ended and the workstation locked")
	}
	if decision.RuleID != "" {
		fmt.Printf("Matched Rule: %s\n", decision.RuleID)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	return nil
}

func runCheckWebsite(cmd *cobra.Command, args []string) error {
	domain := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	blocklist, err := hostsfile.NewBlocklist(cfg.Hosts.Path, nil, nil, logger)
	if err != nil {
		return err
	}

	blocked, err := blocklist.IsBlocked(domain)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("WEBSITE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Domain:     %s\n", hostsfile.Normalize(domain))
	fmt.Printf("Hosts file: %s\n", cfg.Hosts.Path)
	fmt.Println()

	cyan.Print("Decision:   ")
	if blocked {
		red.Println("BLOCKED")
		fmt.Println("            → Resolves to loopback on this machine")
	} else {
		green.Println("NOT BLOCKED")
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	return nil
}

// parseCheckTime combines day and time flags into a concrete timestamp.
func parseCheckTime(dayStr, timeStr string) (time.Time, error) {
	now := time.Now()

	hour := now.Hour()
	minute := now.Minute()
	if timeStr != "" {
		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format: %s", timeStr)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}
	target := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, now.Location()), nil
}
