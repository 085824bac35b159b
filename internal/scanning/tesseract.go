package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/imaging"
)

// CommandRunner runs an external program with stdin and returns what it
// wrote to stdout and stderr
type CommandRunner func(ctx context.Context, name string, args []string, stdin []byte) (stdout, stderr []byte, err error)

// TesseractOptions configure the Tesseract recognizer
type TesseractOptions struct {
	// Binary is the tesseract executable, "tesseract" when empty
	Binary string
	// Languages are tried in order until one has its data installed. An
	// empty entry means the engine default.
	Languages []string
	LookPath  func(string) (string, error)
	Runner    CommandRunner
}

// Tesseract implements the Recognizer interface using a local tesseract binary
type Tesseract struct {
	binary    string
	languages []string
	lookPath  func(string) (string, error)
	run       CommandRunner
}

// DefaultTesseractLanguages is the fallback order used when none is given
var DefaultTesseractLanguages = []string{"rus", "eng", ""}

// NewTesseract creates a new Tesseract Recognizer
func NewTesseract(opts TesseractOptions) *Tesseract {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "tesseract"
	}
	languages := make([]string, 0, len(opts.Languages))
	for _, lang := range opts.Languages {
		languages = append(languages, strings.TrimSpace(lang))
	}
	if len(languages) == 0 {
		languages = DefaultTesseractLanguages
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	run := opts.Runner
	if run == nil {
		run = runCommand
	}

	return &Tesseract{
		binary:    binary,
		languages: languages,
		lookPath:  lookPath,
		run:       run,
	}
}

// Recognize pipes the image through tesseract, falling back through the
// configured languages when language data is missing
func (t *Tesseract) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	path, err := t.lookPath(t.binary)
	if err != nil {
		return "", failure.Permanent(
			fmt.Errorf("locating %s: %w", t.binary, err),
			"install tesseract (macOS: brew install tesseract, Debian/Ubuntu: apt install tesseract-ocr) or choose --ocr ocrspace",
		)
	}

	pngData, err := imaging.ToPNG(image, contentType)
	if err != nil {
		return "", failure.Permanent(fmt.Errorf("preparing image: %w", err), "")
	}

	var missing []string
	for _, lang := range t.languages {
		args := []string{"stdin", "stdout"}
		if lang != "" {
			args = append(args, "-l", lang)
		}

		stdout, stderr, err := t.run(ctx, path, args, pngData)
		if err == nil {
			return strings.TrimSpace(string(stdout)), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if isMissingLanguage(stderr) {
			name := lang
			if name == "" {
				name = "default"
			}
			slog.Warn("Tesseract language data not installed, trying next language", "language", name)
			missing = append(missing, name)
			continue
		}

		return "", failure.Transient(fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(string(stderr))))
	}

	return "", failure.Permanent(
		fmt.Errorf("no tesseract language data available (tried %s)", strings.Join(missing, ", ")),
		"install language data (macOS: brew install tesseract-lang, Debian/Ubuntu: apt install tesseract-ocr-rus) or choose --ocr ocrspace",
	)
}

// Close is a no-op; every recognition runs its own process
func (t *Tesseract) Close() error {
	return nil
}

func isMissingLanguage(stderr []byte) bool {
	msg := string(stderr)
	return strings.Contains(msg, "Failed loading language") ||
		strings.Contains(msg, "Error opening data file") ||
		strings.Contains(msg, ".traineddata")
}

func runCommand(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
		}
		return stdout.Bytes(), stderr.Bytes(), err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
