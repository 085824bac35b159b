package watchdog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/table"
)

// Caption is the text sent with an alert screenshot
func Caption(takenAt time.Time, row table.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Screenshot taken at: %s\n\n", takenAt.Format("02/01/06 15:04"))
	fmt.Fprintf(&b, "Event: %s\n", row.Event)
	fmt.Fprintf(&b, "Time: %s\n", row.Time)
	fmt.Fprintf(&b, "Amount: $%s", FormatAmount(row.Amount))
	return b.String()
}

// ScreenshotName is the archive file name for a screenshot taken at t
func ScreenshotName(t time.Time) string {
	return t.Format("20060102_150405") + ".png"
}

// FormatAmount renders an amount with two decimals and comma grouped
// thousands, e.g. 15,250.00
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}

	whole, cents, _ := strings.Cut(fixed, ".")
	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}

	return sign + grouped.String() + "." + cents
}
