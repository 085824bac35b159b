package screen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/imaging"
)

// Runner runs an external program and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandOptions carry the seams shared by the command backed collaborators
type CommandOptions struct {
	LookPath func(string) (string, error)
	Runner   Runner
	// TempDir receives the intermediate screenshot files; os.TempDir() when empty
	TempDir string
	Clock   func() time.Time
}

func (o CommandOptions) withDefaults() CommandOptions {
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.Runner == nil {
		o.Runner = runCommand
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// CommandCapturer captures the screen by running a screenshot tool that
// writes a PNG file
type CommandCapturer struct {
	tool    string
	install string
	args    func(path string, region *Region) []string
	opts    CommandOptions
}

// NewScreencapture uses the macOS screencapture tool
func NewScreencapture(opts CommandOptions) *CommandCapturer {
	return &CommandCapturer{
		tool:    "screencapture",
		install: "grant Screen Recording permission to the terminal in System Settings > Privacy & Security",
		args: func(path string, region *Region) []string {
			args := []string{"-x", "-t", "png"}
			if region != nil {
				args = append(args, "-R", region.String())
			}
			return append(args, path)
		},
		opts: opts.withDefaults(),
	}
}

// NewGrim uses grim, the Wayland screenshot tool
func NewGrim(opts CommandOptions) *CommandCapturer {
	return &CommandCapturer{
		tool:    "grim",
		install: "install grim (apt install grim)",
		args: func(path string, region *Region) []string {
			var args []string
			if region != nil {
				args = append(args, "-g", fmt.Sprintf("%d,%d %dx%d", region.X, region.Y, region.Width, region.Height))
			}
			return append(args, path)
		},
		opts: opts.withDefaults(),
	}
}

// NewImport uses ImageMagick's import against the X11 root window
func NewImport(opts CommandOptions) *CommandCapturer {
	return &CommandCapturer{
		tool:    "import",
		install: "install ImageMagick (apt install imagemagick)",
		args: func(path string, region *Region) []string {
			args := []string{"-window", "root"}
			if region != nil {
				args = append(args, "-crop", fmt.Sprintf("%dx%d+%d+%d", region.Width, region.Height, region.X, region.Y))
			}
			return append(args, path)
		},
		opts: opts.withDefaults(),
	}
}

// NewScrot uses scrot on X11
func NewScrot(opts CommandOptions) *CommandCapturer {
	return &CommandCapturer{
		tool:    "scrot",
		install: "install scrot (apt install scrot)",
		args: func(path string, region *Region) []string {
			args := []string{"-o"}
			if region != nil {
				args = append(args, "-a", region.String())
			}
			return append(args, path)
		},
		opts: opts.withDefaults(),
	}
}

// String returns the tool name
func (c *CommandCapturer) String() string {
	return c.tool
}

// Capture implements Capturer
func (c *CommandCapturer) Capture(ctx context.Context, region *Region) (Frame, error) {
	path, err := c.opts.LookPath(c.tool)
	if err != nil {
		return Frame{}, failure.Permanent(fmt.Errorf("locating %s: %w", c.tool, err), c.install)
	}

	tmp, err := os.CreateTemp(c.opts.TempDir, "screen-*.png")
	if err != nil {
		return Frame{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	capturedAt := c.opts.Clock()
	if output, err := c.opts.Runner(ctx, path, c.args(tmpPath, region)...); err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, failure.Transient(fmt.Errorf("running %s: %w: %s", c.tool, err, strings.TrimSpace(string(output))))
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return Frame{}, fmt.Errorf("reading %s output: %w", c.tool, err)
	}
	if len(data) == 0 {
		return Frame{}, failure.Permanent(fmt.Errorf("%s produced an empty image", c.tool), c.install)
	}

	width, height, err := imaging.Dimensions(data)
	if err != nil {
		return Frame{}, fmt.Errorf("reading %s output: %w", c.tool, err)
	}

	return Frame{
		PNG:        data,
		CapturedAt: capturedAt,
		Width:      width,
		Height:     height,
		Backend:    c.tool,
	}, nil
}

// CommandPointer drives the mouse through a command line tool
type CommandPointer struct {
	tool      string
	install   string
	moveArgs  func(x, y int) []string
	clickArgs func(x, y int) []string
	opts      CommandOptions
}

// NewCliclick uses cliclick on macOS
func NewCliclick(opts CommandOptions) *CommandPointer {
	return &CommandPointer{
		tool:    "cliclick",
		install: "install cliclick (brew install cliclick)",
		moveArgs: func(x, y int) []string {
			return []string{fmt.Sprintf("m:%d,%d", x, y)}
		},
		clickArgs: func(x, y int) []string {
			return []string{fmt.Sprintf("c:%d,%d", x, y)}
		},
		opts: opts.withDefaults(),
	}
}

// NewXdotool uses xdotool on X11
func NewXdotool(opts CommandOptions) *CommandPointer {
	return &CommandPointer{
		tool:    "xdotool",
		install: "install xdotool (apt install xdotool)",
		moveArgs: func(x, y int) []string {
			return []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y)}
		},
		clickArgs: func(x, y int) []string {
			return []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", "1"}
		},
		opts: opts.withDefaults(),
	}
}

// String returns the tool name
func (p *CommandPointer) String() string {
	return p.tool
}

// Move implements Pointer
func (p *CommandPointer) Move(ctx context.Context, x, y int) error {
	return p.invoke(ctx, p.moveArgs(x, y))
}

// Click implements Pointer
func (p *CommandPointer) Click(ctx context.Context, x, y int) error {
	return p.invoke(ctx, p.clickArgs(x, y))
}

func (p *CommandPointer) invoke(ctx context.Context, args []string) error {
	path, err := p.opts.LookPath(p.tool)
	if err != nil {
		return failure.Permanent(fmt.Errorf("locating %s: %w", p.tool, err), p.install)
	}
	if output, err := p.opts.Runner(ctx, path, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("running %s: %w: %s", p.tool, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// DefaultCapturers returns the screenshot tools to try on this platform, in
// order of preference
func DefaultCapturers(opts CommandOptions) CaptureChain {
	return capturersFor(runtime.GOOS, opts)
}

// DefaultPointers returns the pointer tools to try on this platform
func DefaultPointers(opts CommandOptions) PointerChain {
	return pointersFor(runtime.GOOS, opts)
}

func capturersFor(goos string, opts CommandOptions) CaptureChain {
	switch goos {
	case "darwin":
		return CaptureChain{NewScreencapture(opts)}
	case "linux", "freebsd", "openbsd", "netbsd":
		return CaptureChain{NewGrim(opts), NewImport(opts), NewScrot(opts)}
	}
	return CaptureChain{}
}

func pointersFor(goos string, opts CommandOptions) PointerChain {
	switch goos {
	case "darwin":
		return PointerChain{NewCliclick(opts)}
	case "linux", "freebsd", "openbsd", "netbsd":
		return PointerChain{NewXdotool(opts)}
	}
	return PointerChain{}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, fmt.Errorf("exit code %d", exitErr.ExitCode())
	}
	return output, err
}
