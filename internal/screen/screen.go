// Package screen grabs screenshots and moves the pointer through whatever
// desktop tools the host has installed.
package screen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Region is a rectangle in screen coordinates
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// Point is a position in screen coordinates
type Point struct {
	X int
	Y int
}

// Frame is one captured screenshot
type Frame struct {
	PNG        []byte
	CapturedAt time.Time
	Width      int
	Height     int
	Backend    string
}

// Capturer grabs the screen, or only region when it is not nil
type Capturer interface {
	Capture(ctx context.Context, region *Region) (Frame, error)
}

// Pointer moves and clicks the mouse
type Pointer interface {
	Move(ctx context.Context, x, y int) error
	Click(ctx context.Context, x, y int) error
}

// ParseRegion parses "x,y,width,height"
func ParseRegion(s string) (*Region, error) {
	values, err := parseInts(s, 4)
	if err != nil {
		return nil, fmt.Errorf("parsing region %q: %w", s, err)
	}
	region := &Region{X: values[0], Y: values[1], Width: values[2], Height: values[3]}
	if region.X < 0 || region.Y < 0 {
		return nil, fmt.Errorf("parsing region %q: origin must not be negative", s)
	}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("parsing region %q: width and height must be positive", s)
	}
	return region, nil
}

// ParsePoint parses "x,y"
func ParsePoint(s string) (*Point, error) {
	values, err := parseInts(s, 2)
	if err != nil {
		return nil, fmt.Errorf("parsing point %q: %w", s, err)
	}
	if values[0] < 0 || values[1] < 0 {
		return nil, fmt.Errorf("parsing point %q: coordinates must not be negative", s)
	}
	return &Point{X: values[0], Y: values[1]}, nil
}

func parseInts(s string, want int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("want %d comma separated integers, got %d", want, len(parts))
	}
	values := make([]int, 0, want)
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// CaptureChain tries each Capturer in order and returns the first frame
type CaptureChain []Capturer

// Capture implements Capturer
func (c CaptureChain) Capture(ctx context.Context, region *Region) (Frame, error) {
	if len(c) == 0 {
		return Frame{}, errors.New("no screen capture backend configured")
	}

	var errs []error
	for _, capturer := range c {
		frame, err := capturer.Capture(ctx, region)
		if err == nil {
			return frame, nil
		}
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return Frame{}, fmt.Errorf("capturing screen: %w", errors.Join(errs...))
}

// PointerChain tries each Pointer in order until one succeeds
type PointerChain []Pointer

// Move implements Pointer
func (p PointerChain) Move(ctx context.Context, x, y int) error {
	return p.each(ctx, func(pointer Pointer) error {
		return pointer.Move(ctx, x, y)
	})
}

// Click implements Pointer
func (p PointerChain) Click(ctx context.Context, x, y int) error {
	return p.each(ctx, func(pointer Pointer) error {
		return pointer.Click(ctx, x, y)
	})
}

func (p PointerChain) each(ctx context.Context, fn func(Pointer) error) error {
	if len(p) == 0 {
		return errors.New("no pointer backend configured")
	}

	var errs []error
	for _, pointer := range p {
		err := fn(pointer)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
