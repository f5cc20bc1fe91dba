package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/obyrne/wardend/internal/config"
	"github.com/obyrne/wardend/internal/hostsfile"
	"github.com/obyrne/wardend/internal/storage/bolt"
)

var (
	websiteCategory string
	websiteReason   string
)

var websiteCmd = &cobra.Command{
	Use:   "website",
	Short: "Manage the hosts-file website blocklist",
}

var websiteBlockCmd = &cobra.Command{
	Use:     "block DOMAIN",
	Short:   "Block a website",
	Example: `  wardend website block example.com --category Social --reason "too distracting"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runWebsiteBlock,
}

var websiteUnblockCmd = &cobra.Command{
	Use:   "unblock DOMAIN",
	Short: "Unblock a website",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebsiteUnblock,
}

var websiteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked websites",
	RunE:  runWebsiteList,
}

func init() {
	websiteBlockCmd.Flags().StringVar(&websiteCategory, "category", "General", "Category label for the block entry")
	websiteBlockCmd.Flags().StringVar(&websiteReason, "reason", "", "Reason for blocking")

	websiteCmd.AddCommand(websiteBlockCmd)
	websiteCmd.AddCommand(websiteUnblockCmd)
	websiteCmd.AddCommand(websiteListCmd)
	rootCmd.AddCommand(websiteCmd)
}

func openBlocklist() (*hostsfile.Blocklist, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := bolt.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	blocklist, err := hostsfile.NewBlocklist(cfg.Hosts.Path, store.Websites(), nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return blocklist, func() { _ = store.Close() }, nil
}

func runWebsiteBlock(cmd *cobra.Command, args []string) error {
	blocklist, closeStore, err := openBlocklist()
	if err != nil {
		return err
	}
	defer closeStore()

	if err := blocklist.Block(context.Background(), args[0], websiteCategory, websiteReason); err != nil {
		return err
	}
	color.New(color.FgRed, color.Bold).Printf("Blocked %s\n", hostsfile.Normalize(args[0]))
	return nil
}

func runWebsiteUnblock(cmd *cobra.Command, args []string) error {
	blocklist, closeStore, err := openBlocklist()
	if err != nil {
		return err
	}
	defer closeStore()

	if err := blocklist.Unblock(context.Background(), args[0]); err != nil {
		return err
	}
	color.New(color.FgGreen, color.Bold).Printf("Unblocked %s\n", hostsfile.Normalize(args[0]))
	return nil
}

func runWebsiteList(cmd *cobra.Command, args []string) error {
	blocklist, closeStore, err := openBlocklist()
	if err != nil {
		return err
	}
	defer closeStore()

	sites, err := blocklist.List(context.Background())
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("No websites blocked.")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Printf("%-30s %-12s %-20s %s\n", "DOMAIN", "CATEGORY", "BLOCKED AT", "REASON")
	for _, site := range sites {
		fmt.Printf("%-30s %-12s %-20s %s\n",
			site.Domain, site.Category, site.BlockedAt.Format("2006-01-02 15:04"), site.Reason)
	}
	return nil
}
