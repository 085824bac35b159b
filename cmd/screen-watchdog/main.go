package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/ledger"
	"github.com/zombor/screen-watchdog/internal/logging"
	"github.com/zombor/screen-watchdog/internal/notify"
	"github.com/zombor/screen-watchdog/internal/scanning"
	"github.com/zombor/screen-watchdog/internal/screen"
	"github.com/zombor/screen-watchdog/internal/watchdog"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const usageArgs = "screen-watchdog [flags] [interval_seconds] [move_radius]"

const (
	defaultInterval = 10 * time.Second
	defaultRadius   = 50
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Check for version flag before parsing other flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Fprintln(stdout, version)
			return 0
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "error: loading .env: %v\n", err)
		return 1
	}

	fs := ff.NewFlagSet("screen-watchdog")
	var (
		threshold     = fs.StringLong("threshold", watchdog.DefaultThreshold.String(), "Alert when a new row's amount is above this")
		ledgerPath    = fs.StringLong("ledger", "table_rows.json", "Ledger file of rows already seen")
		screensPath   = fs.StringLong("screens", "./screens", "Directory for alert screenshots")
		alertsDB      = fs.StringLong("alerts-db", "alerts.db", "Alert history database path")
		ocrBackend    = fs.StringLong("ocr", "ocrspace", "OCR backend: 'ocrspace', 'tesseract', 'gemini' or 'ollama'")
		ocrLanguage   = fs.StringLong("ocr-language", "", "OCR language (e.g. rus, eng, rus+eng)")
		ocrSpaceKey   = fs.StringLong("ocrspace-key", scanning.DefaultOCRSpaceKey, "OCR.space API key")
		ocrSpaceURL   = fs.StringLong("ocrspace-url", scanning.DefaultOCRSpaceURL, "OCR.space endpoint")
		tesseractBin  = fs.StringLong("tesseract-bin", "tesseract", "Tesseract binary")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		ocrAttempts   = fs.IntLong("ocr-attempts", 3, "OCR attempts per cycle for transient failures")
		ocrBackoff    = fs.DurationLong("ocr-backoff", 2*time.Second, "Delay before the first OCR retry, doubled each time")
		region        = fs.StringLong("region", "", "Capture only x,y,w,h instead of the full screen")
		center        = fs.StringLong("center", "", "Centre x,y of the cursor orbit (default radius+10,radius+10)")
		focus         = fs.StringLong("focus", "", "Click x,y once at start-up to focus the watched window")
		imagePath     = fs.StringLong("image", "", "Replay this image file instead of capturing the screen")
		gcsBucket     = fs.StringLong("gcs-bucket", "", "Mirror alert screenshots to gs://bucket/prefix")
		skipUnchanged = fs.BoolLong("skip-unchanged", "Skip OCR when the screen has not changed")
		telegramAPI   = fs.StringLong("telegram-api", notify.DefaultTelegramURL, "Telegram Bot API base URL")
		listAlerts    = fs.BoolLong("list-alerts", "Print the alert history and exit")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: text or json")
		_             = fs.StringLong("config", "", "Config file (key value per line)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("SCREEN_WATCHDOG"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return usage(stderr, fs, err)
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	interval, radius, err := parsePositional(fs.GetArgs())
	if err != nil {
		return usage(stderr, fs, err)
	}

	minAmount, err := parseThreshold(*threshold)
	if err != nil {
		return usage(stderr, fs, err)
	}

	opts := watchdog.Options{
		Interval:      interval,
		Radius:        radius,
		Threshold:     minAmount,
		SkipUnchanged: *skipUnchanged,
	}
	if opts.Region, err = parseOptionalRegion(*region); err != nil {
		return usage(stderr, fs, err)
	}
	if opts.Center, err = parseOptionalPoint("center", *center); err != nil {
		return usage(stderr, fs, err)
	}
	if opts.Focus, err = parseOptionalPoint("focus", *focus); err != nil {
		return usage(stderr, fs, err)
	}

	logger, err := logging.New(logging.Options{Level: *logLevel, Format: *logFormat, Output: stderr})
	if err != nil {
		return usage(stderr, fs, err)
	}
	slog.SetDefault(logger)

	// Initialize alert history
	history, err := notify.NewBoltHistory(*alertsDB)
	if err != nil {
		slog.Error("Failed to initialize alert history", "path", *alertsDB, "error", err)
		return 1
	}
	defer history.Close()

	if *listAlerts {
		if err := printAlerts(stdout, history); err != nil {
			slog.Error("Failed to list alerts", "error", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize recognizer based on backend
	var recognizer scanning.Recognizer
	switch *ocrBackend {
	case "ocrspace":
		slog.Info("Initializing OCR.space recognizer...", "url", *ocrSpaceURL)
		if *ocrSpaceKey == scanning.DefaultOCRSpaceKey {
			slog.Warn("Using the public OCR.space demo key; set --ocrspace-key for reliable service")
		}
		recognizer = scanning.NewOCRSpace(*ocrSpaceURL, *ocrSpaceKey, *ocrLanguage)
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "binary", *tesseractBin)
		tesseractOpts := scanning.TesseractOptions{Binary: *tesseractBin}
		if *ocrLanguage != "" {
			tesseractOpts.Languages = []string{*ocrLanguage, ""}
		}
		recognizer = scanning.NewTesseract(tesseractOpts)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			return 1
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		gemini, err := scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			return 1
		}
		recognizer = gemini
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		return usage(stderr, fs, fmt.Errorf("invalid OCR backend %q (valid: ocrspace, tesseract, gemini, ollama)", *ocrBackend))
	}
	recognizer = scanning.NewRetrying(recognizer, scanning.RetryOptions{
		Attempts: *ocrAttempts,
		Backoff:  *ocrBackoff,
	})
	defer recognizer.Close()

	// Initialize screen access
	var capturer screen.Capturer
	if *imagePath != "" {
		slog.Info("Replaying image instead of capturing the screen", "path", *imagePath)
		capturer = screen.NewFileSource(*imagePath, nil)
	} else {
		capturer = screen.DefaultCapturers(screen.CommandOptions{})
	}
	pointer := screen.DefaultPointers(screen.CommandOptions{})

	// Initialize screenshot archive
	local, err := watchdog.NewLocalArchive(*screensPath)
	if err != nil {
		slog.Error("Failed to initialize screenshot archive", "error", err)
		return 1
	}
	var archive watchdog.Archive = local
	if *gcsBucket != "" {
		bucket, prefix, err := watchdog.ParseGCSLocation(*gcsBucket)
		if err != nil {
			return usage(stderr, fs, err)
		}
		uploader, err := watchdog.NewGCSUploader(ctx, bucket)
		if err != nil {
			slog.Error("Failed to initialize GCS mirror", "bucket", bucket, "error", err)
			return 1
		}
		defer uploader.Close()
		slog.Info("Mirroring alert screenshots", "bucket", bucket, "prefix", prefix)
		archive = watchdog.NewMirroredArchive(local, uploader, prefix)
	}

	deps := watchdog.Deps{
		Capturer:   capturer,
		Pointer:    pointer,
		Recognizer: recognizer,
		Ledger:     ledger.NewStore(*ledgerPath),
		Archive:    archive,
		History:    history,
	}

	if token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); token != "" {
		telegram := notify.NewTelegram(token, *telegramAPI)
		deps.Notifier = notify.NewFanout(telegram, telegram)
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN is not set, notifications are disabled")
	}

	dog, err := watchdog.New(opts, deps)
	if err != nil {
		slog.Error("Failed to initialize watchdog", "error", err)
		return 1
	}

	if err := dog.Run(ctx); err != nil {
		slog.Error("Watchdog failed", "error", err, "guidance", failure.Guidance(err))
		return 1
	}

	slog.Info("Shutting down...")
	return 0
}

func usage(stderr io.Writer, fs *ff.FlagSet, err error) int {
	fmt.Fprintf(stderr, "usage: %s\n\n%s\n", usageArgs, ffhelp.Flags(fs))
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

// parsePositional reads the optional interval (seconds, fractional allowed)
// and orbit radius (pixels)
func parsePositional(args []string) (time.Duration, int, error) {
	interval := defaultInterval
	radius := defaultRadius

	if len(args) > 2 {
		return 0, 0, fmt.Errorf("too many arguments: %s", strings.Join(args, " "))
	}

	if len(args) > 0 {
		seconds, err := strconv.ParseFloat(args[0], 64)
		if err != nil || seconds <= 0 {
			return 0, 0, fmt.Errorf("invalid interval_seconds %q: must be a positive number", args[0])
		}
		interval = time.Duration(seconds * float64(time.Second))
		if interval <= 0 {
			return 0, 0, fmt.Errorf("invalid interval_seconds %q: too small", args[0])
		}
	}

	if len(args) > 1 {
		r, err := strconv.Atoi(args[1])
		if err != nil || r < 0 {
			return 0, 0, fmt.Errorf("invalid move_radius %q: must be a non-negative integer", args[1])
		}
		radius = r
	}

	return interval, radius, nil
}

// parseThreshold accepts any non-negative amount, zero included
func parseThreshold(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("invalid threshold %q: must not be negative", s)
	}
	return amount, nil
}

func parseOptionalRegion(s string) (*screen.Region, error) {
	if s == "" {
		return nil, nil
	}
	r, err := screen.ParseRegion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --region: %w", err)
	}
	return r, nil
}

func parseOptionalPoint(name, s string) (*screen.Point, error) {
	if s == "" {
		return nil, nil
	}
	p, err := screen.ParsePoint(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return p, nil
}

func printAlerts(w io.Writer, history notify.History) error {
	alerts, err := history.ListAlerts()
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts recorded")
		return nil
	}

	for _, alert := range alerts {
		fmt.Fprintf(w, "%s  %s  %s  %s  $%s  delivered %d/%d  %s\n",
			alert.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			alert.ID,
			alert.Row.Event,
			alert.Row.Time,
			watchdog.FormatAmount(alert.Row.Amount),
			notify.Delivered(alert.Deliveries),
			len(alert.Deliveries),
			alert.ImagePath,
		)
		for _, d := range alert.Deliveries {
			if !d.OK {
				fmt.Fprintf(w, "    %s failed: %s\n", d.Recipient, d.Error)
			}
		}
	}
	return nil
}
