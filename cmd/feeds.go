package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/ttrss-to-maildir/config"
	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/stats"
	"github.com/dhcgn/ttrss-to-maildir/ttrss"
)

// LoggerFunc builds the logger for a loaded config. The returned cleanup
// closes any log file.
type LoggerFunc func(cfg config.Config) (*slog.Logger, func() error, error)

// NewClient builds the TT-RSS client described by cfg.
func NewClient(cfg config.Config, logger *slog.Logger) (*ttrss.Client, error) {
	return ttrss.New(ttrss.Options{
		URL:                cfg.APIURL,
		Credentials:        ttrss.Credentials{User: cfg.User, Password: cfg.Pass},
		Timeout:            cfg.RequestTimeout,
		AllowUnknownFields: cfg.AllowUnknownFields,
	}, logger)
}

// NewFeedsCommand lists the subscribed feeds and optionally writes them
// to feeds.csv.
func NewFeedsCommand(setupLogger LoggerFunc) *cobra.Command {
	var (
		output string
		topN   int
	)

	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List the subscribed feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			client, err := NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("ttrss.New: %w", err)
			}
			feeds, err := listFeeds(cmd.Context(), client)
			if err != nil {
				return err
			}

			if err := renderFeeds(cmd.OutOrStdout(), feeds); err != nil {
				return fmt.Errorf("render feeds: %w", err)
			}

			if topN > 0 && len(feeds) > 0 {
				pterm.Println()
				pterm.Info.Printf("Top %d categories:\n", topN)
				stats.PrettyPrintTop(categoryCounts(feeds), topN)
			}

			if output != "" {
				path, err := saveFeedsCSV(feeds, output)
				if err != nil {
					return fmt.Errorf("error saving CSV report: %w", err)
				}
				pterm.Info.Printf("Feeds saved to: %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory for feeds.csv")
	cmd.Flags().IntVarP(&topN, "top", "t", 0, "Number of categories to rank by feed count")
	return cmd
}

func listFeeds(ctx context.Context, client *ttrss.Client) ([]model.Feed, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	session, err := client.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	feeds, err := client.GetFeeds(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("get feeds: %w", err)
	}
	return feeds, nil
}

var feedColumns = []string{"ID", "Title", "URL", "Category", "Last Update"}

func feedRecord(f model.Feed) []string {
	return []string{
		strconv.FormatUint(uint64(f.ID), 10),
		f.Title,
		f.FeedURL,
		strconv.FormatUint(uint64(f.CatID), 10),
		lastUpdate(f),
	}
}

func lastUpdate(f model.Feed) string {
	if f.LastUpdated == 0 {
		return ""
	}
	return time.Unix(int64(f.LastUpdated), 0).UTC().Format(time.RFC3339)
}

func categoryCounts(feeds []model.Feed) map[string]int {
	counts := make(map[string]int)
	for _, f := range feeds {
		counts["category "+strconv.FormatUint(uint64(f.CatID), 10)]++
	}
	return counts
}

func renderFeeds(w io.Writer, feeds []model.Feed) error {
	data := pterm.TableData{feedColumns}
	for _, f := range feeds {
		data = append(data, feedRecord(f))
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

func saveFeedsCSV(feeds []model.Feed, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "feeds.csv")
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(feedColumns); err != nil {
		return "", err
	}
	for _, f := range feeds {
		if err := writer.Write(feedRecord(f)); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return path, file.Close()
}
