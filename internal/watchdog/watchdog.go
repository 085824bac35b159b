// Package watchdog runs the capture, recognise, record and alert cycle.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/ledger"
	"github.com/zombor/screen-watchdog/internal/notify"
	"github.com/zombor/screen-watchdog/internal/scanning"
	"github.com/zombor/screen-watchdog/internal/screen"
	"github.com/zombor/screen-watchdog/internal/table"
)

// State is where a cycle ended up
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateExtracting State = "extracting"
	StateFiltering  State = "filtering"
	StateUnchanged  State = "unchanged"
	StateNoRows     State = "no_rows"
	StateNoNew      State = "no_new"
	StateRecorded   State = "recorded"
	StateAlerted    State = "alerted"
	StateSleeping   State = "sleeping"
)

const (
	// orbitStep is how far the cursor advances around the circle per cycle
	orbitStep       = math.Pi / 6
	orbitMargin     = 10
	pointerDeadline = 2 * time.Second
)

// DefaultThreshold is the usual amount a new row must exceed to raise an
// alert. Options.Threshold is taken as given, so zero alerts on any positive
// amount.
var DefaultThreshold = decimal.NewFromInt(15000)

// Ledger is the durable set of rows already seen
type Ledger interface {
	Load() []table.Row
	AppendAndPersist(known, newRows []table.Row) ([]table.Row, error)
}

// Notifier sends an alert to every subscriber
type Notifier interface {
	Notify(ctx context.Context, imagePath, caption string) []notify.DeliveryResult
}

// IDGenerator generates unique IDs for alerts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

type uuidGenerator struct{}

// Generate returns a time ordered UUID so alert keys sort chronologically
func (g *uuidGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options tune the loop
type Options struct {
	Interval  time.Duration
	Radius    int
	Center    *screen.Point
	Focus     *screen.Point
	Region    *screen.Region
	Threshold decimal.Decimal
	// SkipUnchanged skips recognition when the frame is byte-identical to the
	// last recognised one
	SkipUnchanged bool
}

// Deps are the collaborators of the loop. Pointer, Notifier and History may
// be nil.
type Deps struct {
	Capturer   screen.Capturer
	Pointer    screen.Pointer
	Recognizer scanning.Recognizer
	Ledger     Ledger
	Archive    Archive
	Notifier   Notifier
	History    notify.History
}

// Cycle describes what one Tick did
type Cycle struct {
	State   State
	Cursor  screen.Point
	Backend string
	Rows    []table.Row
	NewRows []table.Row
	Alert   *notify.Alert
}

// Watchdog owns the in-memory ledger and the cursor orbit
type Watchdog struct {
	opts        Options
	deps        Deps
	idGenerator IDGenerator
	timeSource  TimeSource
	sleep       Sleeper

	known     []table.Row
	angle     float64
	width     int
	height    int
	lastFrame uint64
	haveFrame bool
}

// New creates a Watchdog with the default ID generator, clock and sleeper
func New(opts Options, deps Deps) (*Watchdog, error) {
	return NewWithDeps(opts, deps, &uuidGenerator{}, &defaultTimeSource{}, sleepContext)
}

// NewWithDeps creates a Watchdog with custom dependencies for testing. The
// ledger is loaded here, once.
func NewWithDeps(opts Options, deps Deps, idGen IDGenerator, timeSrc TimeSource, sleep Sleeper) (*Watchdog, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if opts.Radius < 0 {
		return nil, errors.New("radius must not be negative")
	}
	if deps.Capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if deps.Recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if deps.Archive == nil {
		return nil, errors.New("archive is required")
	}
	if opts.Center == nil {
		opts.Center = &screen.Point{X: opts.Radius + orbitMargin, Y: opts.Radius + orbitMargin}
	}
	if opts.Threshold.IsNegative() {
		return nil, errors.New("threshold must not be negative")
	}

	return &Watchdog{
		opts:        opts,
		deps:        deps,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sleep:       sleep,
		known:       deps.Ledger.Load(),
	}, nil
}

// Known returns the rows seen so far, oldest first
func (w *Watchdog) Known() []table.Row {
	return w.known
}

// Run ticks until ctx is cancelled. Cancellation is a clean stop, not an error.
func (w *Watchdog) Run(ctx context.Context) error {
	slog.Info("Watchdog started",
		"interval", w.opts.Interval,
		"radius", w.opts.Radius,
		"center_x", w.opts.Center.X,
		"center_y", w.opts.Center.Y,
		"threshold", w.opts.Threshold.String(),
		"known_rows", len(w.known),
	)

	if w.opts.Focus != nil {
		w.focus(ctx, *w.opts.Focus)
	}

	for {
		if ctx.Err() != nil {
			slog.Info("Watchdog stopped")
			return nil
		}

		cycle, err := w.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Watchdog stopped")
				return nil
			}
			slog.Error("Cycle failed",
				"state", cycle.State,
				"error", err,
				"guidance", failure.Guidance(err),
			)
		} else {
			slog.Debug("Cycle finished", "state", cycle.State, "rows", len(cycle.Rows), "new_rows", len(cycle.NewRows))
		}

		slog.Debug("Sleeping", "state", StateSleeping, "interval", w.opts.Interval)
		if err := w.sleep(ctx, w.opts.Interval); err != nil {
			slog.Info("Watchdog stopped")
			return nil
		}
	}
}

// Tick runs one cycle: nudge the cursor, capture, recognise, record new rows
// and alert on a qualifying one. The returned Cycle is valid even with an
// error; its State is the stage that failed.
func (w *Watchdog) Tick(ctx context.Context) (Cycle, error) {
	cycle := Cycle{State: StateCapturing}

	cycle.Cursor = w.nextCursor()
	w.moveCursor(ctx, cycle.Cursor)

	frame, err := w.deps.Capturer.Capture(ctx, w.opts.Region)
	if err != nil {
		return cycle, fmt.Errorf("capturing screen: %w", err)
	}
	cycle.Backend = frame.Backend
	if frame.Width > 0 && frame.Height > 0 {
		w.width, w.height = frame.Width, frame.Height
	}

	fingerprint := xxhash.Sum64(frame.PNG)
	if w.opts.SkipUnchanged && w.haveFrame && fingerprint == w.lastFrame {
		cycle.State = StateUnchanged
		slog.Debug("Screen unchanged, skipping recognition")
		return cycle, nil
	}

	cycle.State = StateExtracting
	text, err := w.deps.Recognizer.Recognize(ctx, frame.PNG, "image/png")
	if err != nil {
		return cycle, fmt.Errorf("recognizing text: %w", err)
	}
	w.lastFrame, w.haveFrame = fingerprint, true

	cycle.Rows = table.Extract(text)
	if len(cycle.Rows) == 0 {
		cycle.State = StateNoRows
		slog.Info("No table rows recognised")
		return cycle, nil
	}

	cycle.State = StateFiltering
	fresh := ledger.FilterNew(cycle.Rows, w.known)
	if len(fresh) == 0 {
		cycle.State = StateNoNew
		slog.Info("No new rows", "rows", len(cycle.Rows), "known_rows", len(w.known))
		w.logKnown()
		return cycle, nil
	}

	updated, err := w.deps.Ledger.AppendAndPersist(w.known, fresh)
	w.known = updated
	if err != nil {
		slog.Error("Failed to persist ledger, keeping rows in memory", "error", err)
	}
	cycle.NewRows = fresh
	cycle.State = StateRecorded
	slog.Info("Recorded new rows", "new_rows", len(fresh), "known_rows", len(w.known))
	w.logKnown()

	row, ok := table.SelectAlertable(fresh, w.opts.Threshold)
	if !ok {
		slog.Info("No new row above threshold", "threshold", w.opts.Threshold.String())
		return cycle, nil
	}

	alert, err := w.raise(ctx, frame, row)
	if err != nil {
		return cycle, err
	}
	cycle.Alert = alert
	cycle.State = StateAlerted
	return cycle, nil
}

// raise archives the frame, fans the alert out and records the outcome
func (w *Watchdog) raise(ctx context.Context, frame screen.Frame, row table.Row) (*notify.Alert, error) {
	now := w.timeSource.Now()
	takenAt := frame.CapturedAt
	if takenAt.IsZero() {
		takenAt = now
	}
	slog.Info("New row above threshold",
		"event", row.Event,
		"time", row.Time,
		"amount", FormatAmount(row.Amount),
	)

	imagePath, err := w.deps.Archive.Save(ctx, ScreenshotName(takenAt), frame.PNG)
	if err != nil {
		return nil, fmt.Errorf("saving screenshot: %w", err)
	}

	alert := &notify.Alert{
		ID:        w.idGenerator.Generate(),
		CreatedAt: now,
		Row:       row,
		ImagePath: imagePath,
		Caption:   Caption(takenAt, row),
	}

	if w.deps.Notifier == nil {
		slog.Warn("Notifications disabled, alert only saved", "path", imagePath)
	} else {
		alert.Deliveries = w.deps.Notifier.Notify(ctx, imagePath, alert.Caption)
		slog.Info("Alert sent",
			"path", imagePath,
			"recipients", len(alert.Deliveries),
			"delivered", notify.Delivered(alert.Deliveries),
		)
	}

	if w.deps.History != nil {
		if err := w.deps.History.SaveAlert(alert); err != nil {
			slog.Warn("Failed to record alert history", "id", alert.ID, "error", err)
		}
	}

	return alert, nil
}

// nextCursor returns the current orbit point and advances the angle. The
// point is kept on the last captured screen.
func (w *Watchdog) nextCursor() screen.Point {
	radius := float64(w.opts.Radius)
	x := int(float64(w.opts.Center.X) + radius*math.Cos(w.angle))
	y := int(float64(w.opts.Center.Y) + radius*math.Sin(w.angle))
	w.angle += orbitStep

	return screen.Point{
		X: clamp(x, w.width),
		Y: clamp(y, w.height),
	}
}

func clamp(v, size int) int {
	if v < 0 {
		return 0
	}
	if size > 0 && v > size-1 {
		return size - 1
	}
	return v
}

func (w *Watchdog) moveCursor(ctx context.Context, p screen.Point) {
	if w.deps.Pointer == nil {
		return
	}
	moveCtx, cancel := context.WithTimeout(ctx, pointerDeadline)
	defer cancel()
	if err := w.deps.Pointer.Move(moveCtx, p.X, p.Y); err != nil {
		slog.Debug("Failed to move cursor", "x", p.X, "y", p.Y, "error", err)
	}
}

func (w *Watchdog) focus(ctx context.Context, p screen.Point) {
	if w.deps.Pointer == nil {
		slog.Warn("No pointer available, cannot focus window")
		return
	}
	clickCtx, cancel := context.WithTimeout(ctx, pointerDeadline)
	defer cancel()
	if err := w.deps.Pointer.Click(clickCtx, p.X, p.Y); err != nil {
		slog.Warn("Failed to focus window", "x", p.X, "y", p.Y, "error", err, "guidance", failure.Guidance(err))
		return
	}
	slog.Info("Focused window", "x", p.X, "y", p.Y)
}

func (w *Watchdog) logKnown() {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for i, row := range w.known {
		slog.Debug("Known row",
			"n", i+1,
			"id", row.ID[:min(8, len(row.ID))],
			"event", row.Event,
			"time", row.Time,
			"amount", FormatAmount(row.Amount),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
