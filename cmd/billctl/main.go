// billctl - command line interface to the household bill tracker
//
// Usage:
//
//	billctl process receipt1.jpg receipt2.jpg --person Asha
//	billctl list --limit 10
//	billctl summary --category Groceries
//	billctl delete <id>
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/gharbills/bill-tracker/internal/bill"
	"github.com/gharbills/bill-tracker/internal/scanning"
	"github.com/gharbills/bill-tracker/internal/store"
	"github.com/gharbills/bill-tracker/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	// CLI output should stay readable; keep slog noise on stderr at warn+
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	app := &cli.App{
		Name:  "billctl",
		Usage: "Extract items from household bill photos and track expenses",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Value:   "bolt",
				Usage:   "Record store backend (bolt, sqlite)",
				EnvVars: []string{"BILL_TRACKER_STORE"},
			},
			&cli.StringFlag{
				Name:    "db",
				Value:   "bill-tracker.db",
				Usage:   "Database file path",
				EnvVars: []string{"BILL_TRACKER_DB"},
			},
		},
		Commands: []*cli.Command{
			processCommand(),
			listCommand(),
			summaryCommand(),
			deleteCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (store.Store, error) {
	switch c.String("store") {
	case "bolt":
		return store.NewBolt(c.String("db"))
	case "sqlite":
		return store.NewSQLite(c.String("db"))
	default:
		return nil, fmt.Errorf("invalid store backend %q", c.String("store"))
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Extract and store items from one or more bill images",
		ArgsUsage: "<image files>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "person",
				Value: bill.DefaultPerson,
				Usage: "Person who made the purchase",
			},
			&cli.StringFlag{
				Name:    "gemini-key",
				Usage:   "Google Gemini API key",
				EnvVars: []string{"GOOGLE_API_KEY"},
			},
			&cli.StringFlag{
				Name:  "gemini-model",
				Value: "gemini-2.5-flash",
				Usage: "Google Gemini model name",
			},
			&cli.StringFlag{
				Name:  "archive",
				Value: "./bills",
				Usage: "Directory for processed bill images",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one image file is required")
			}

			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			extractor, err := scanning.NewGemini(c.String("gemini-key"), c.String("gemini-model"))
			if err != nil {
				return err
			}
			defer extractor.Close()

			archive, err := tracker.NewLocalArchive(c.String("archive"))
			if err != nil {
				return err
			}

			service := tracker.NewService(st, extractor, archive)

			imgs := make([]tracker.BillImage, 0, c.NArg())
			for _, path := range c.Args().Slice() {
				img, err := readImageFile(path)
				if err != nil {
					fmt.Printf("Skipping %s: %v\n", path, err)
					continue
				}
				imgs = append(imgs, img)
			}

			result := service.ProcessBatch(c.Context, imgs, c.String("person"))
			fmt.Printf("Processed %d/%d image(s): %d item(s) stored",
				result.ImagesExtracted, result.ImagesSubmitted, result.ItemsStored)
			if result.ItemsDropped > 0 {
				fmt.Printf(", %d dropped", result.ItemsDropped)
			}
			fmt.Printf(" (bill total %s)\n", result.Total.StringFixed(2))
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Show recent expenditures",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 10,
				Usage: "Number of expenditures to show",
			},
			&cli.StringFlag{
				Name:  "start",
				Usage: "Range start date (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "Range end date (YYYY-MM-DD)",
			},
		},
		Action: func(c *cli.Context) error {
			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			service := tracker.NewService(st, nil, nil)

			var records []*bill.Expenditure
			if c.String("start") != "" || c.String("end") != "" {
				records, err = service.ListRange(c.Context, c.String("start"), c.String("end"))
			} else {
				records, err = service.List(c.Context)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println("No expenditures found")
				return nil
			}

			if limit := c.Int("limit"); limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			fmt.Printf("%-22s %-12s %-12s %10s  %-14s %s\n",
				"Item", "Quantity", "Date", "Amount", "Category", "Person")
			fmt.Println(strings.Repeat("-", 84))
			for _, record := range records {
				fmt.Printf("%-22s %-12s %-12s %10s  %-14s %s\n",
					truncate(record.Item, 22), truncate(record.Quantity, 12), record.Date,
					record.Amount.StringFixed(2), record.Category, record.Person)
			}
			return nil
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show the amount total, overall or per category",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "category",
				Usage: "Restrict the total to one category",
			},
		},
		Action: func(c *cli.Context) error {
			category := bill.Category(c.String("category"))
			if category != "" && !bill.ValidCategory(category) {
				return fmt.Errorf("unknown category %q, valid: %v", category, bill.Categories)
			}

			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			service := tracker.NewService(st, nil, nil)
			total, err := service.SumByCategory(c.Context, category)
			if err != nil {
				return err
			}

			if category == "" {
				fmt.Printf("Total: %s\n", total.StringFixed(2))
			} else {
				fmt.Printf("Total for %s: %s\n", category, total.StringFixed(2))
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an expenditure by id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("exactly one id is required")
			}

			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			service := tracker.NewService(st, nil, nil)
			found, err := service.Delete(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("expenditure not found: %s", c.Args().First())
			}
			fmt.Println("Deleted")
			return nil
		},
	}
}

func readImageFile(path string) (tracker.BillImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return tracker.BillImage{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return tracker.BillImage{}, err
	}

	contentType := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		contentType = "image/png"
	case ".pdf":
		contentType = "application/pdf"
	case ".heic", ".heif":
		contentType = "image/heic"
	case ".gif":
		contentType = "image/gif"
	}

	return tracker.BillImage{
		Name:        filepath.Base(path),
		Data:        data,
		ContentType: contentType,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
