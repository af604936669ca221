package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/auth"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run-job":
		runJob(log)
	case "issue-token":
		runIssueToken(log)
	case "attach":
		runAttach(log)
	case "rates":
		runRates(log)
	case "daily-totals":
		runDailyTotals(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run-job       Run a batch job (recurring, fx_refresh, reconcile, export) now")
	fmt.Println("  issue-token   Issue an access token for a user")
	fmt.Println("  attach        Upload a local file as a transaction attachment")
	fmt.Println("  rates         Print the FX rate table the refresher would use")
	fmt.Println("  daily-totals  Query exported daily totals for a user")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// loadApp reads configuration and builds the services with log in the context.
func loadApp(ctx context.Context, log zerolog.Logger) (*app.App, context.Context) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	ctx = logger.WithContext(ctx, log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	return a, ctx
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runJob(log zerolog.Logger) {
	fs := flag.NewFlagSet("run-job", flag.ExitOnError)
	jobType := fs.String("type", "", "Job type: recurring, fx_refresh, reconcile or export")
	cursor := fs.String("cursor", "", "Resume cursor from an interrupted run")
	timeout := fs.Duration("timeout", 15*time.Minute, "Maximum run time")
	fs.Parse(os.Args[2:])

	t, ok := jobs.ParseJobType(*jobType)
	if !ok {
		log.Fatal().Str("type", *jobType).Msg("Error: --type must be one of recurring, fx_refresh, reconcile, export")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	a, ctx := loadApp(ctx, log)
	defer a.Close()

	log.Info().Str("job_type", string(t)).Str("cursor", *cursor).Msg("Starting job")

	run, err := a.Dispatcher.RunNow(ctx, t, *cursor, "cli")
	if run != nil {
		printJSON(run)
	}
	if err != nil {
		if run != nil && run.Cursor != "" {
			fmt.Fprintf(os.Stderr, "Resume with: cli run-job -type %s -cursor %s\n", t, run.Cursor)
		}
		log.Fatal().Err(err).Msg("Job failed")
	}
}

func runIssueToken(log zerolog.Logger) {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	userID := fs.String("user", "", "User ID (token subject)")
	ttl := fs.Duration("ttl", auth.DefaultAccessTTL, "Token lifetime")
	fs.Parse(os.Args[2:])

	if strings.TrimSpace(*userID) == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	token, err := auth.IssueAccessToken(cfg.JWTSecret, *userID, *ttl, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(token)
}

func runAttach(log zerolog.Logger) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	userID := fs.String("user", "", "Owner user ID")
	txnID := fs.String("txn", "", "Transaction ID")
	filePath := fs.String("file", "", "Path to local file")
	contentType := fs.String("content-type", "application/octet-stream", "Content type of the file")
	fs.Parse(os.Args[2:])

	if *userID == "" || *txnID == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli attach -user ID -txn ID -file PATH")
	}

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()

	a, ctx := loadApp(context.Background(), log)
	defer a.Close()

	log.Info().
		Str("txn_id", *txnID).
		Str("file", *filePath).
		Msg("Uploading attachment")

	key, err := a.Attachments.Upload(ctx, *userID, *txnID, filepath.Base(*filePath), *contentType, f)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to gs://%s/%s\n", *filePath, a.Config.AttachmentsBucket, key)
}

func runRates(log zerolog.Logger) {
	fs := flag.NewFlagSet("rates", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	a, ctx := loadApp(ctx, log)
	defer a.Close()

	rates, source := a.Refresher.LoadRates(ctx)
	codes := make([]string, 0, len(rates))
	for c := range rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	fmt.Printf("Base %s, source %s\n", a.Config.BaseCurrency, source)
	for _, c := range codes {
		fmt.Printf("  %s  %s\n", c, rates[c].String())
	}
}

func runDailyTotals(log zerolog.Logger) {
	fs := flag.NewFlagSet("daily-totals", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	from := fs.String("from", time.Now().AddDate(0, -1, 0).Format("2006-01-02"), "Start date (YYYY-MM-DD)")
	to := fs.String("to", time.Now().Format("2006-01-02"), "End date (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}
	start, err := time.Parse("2006-01-02", *from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --from date")
	}
	end, err := time.Parse("2006-01-02", *to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --to date")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	a, ctx := loadApp(ctx, log)
	defer a.Close()

	if a.Analytics == nil {
		log.Fatal().Msg("Analytics export is not configured (set GCP_PROJECT)")
	}

	rows, err := a.Analytics.QueryDailyTotals(ctx, *userID, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query daily totals")
	}

	fmt.Printf("\n=== Daily totals in %s (%d rows) ===\n", a.Config.BaseCurrency, len(rows))
	for _, r := range rows {
		total := "0"
		if r.TotalBase != nil {
			total = r.TotalBase.FloatString(2)
		}
		fmt.Printf("%s  %-7s  %12s  (%d txns)\n", r.Day, r.Type, total, r.TxnCount)
	}
	fmt.Println()
}
