package table

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// $1,234.56 or $1234.56; exactly two decimals
	amountPattern = regexp.MustCompile(`\$(?:[0-9]{1,3}(?:,[0-9]{3})+|[0-9]+)\.[0-9]{2}\b`)

	// 3:15 PM, 11:02am
	timePattern = regexp.MustCompile(`(?i)\b[0-9]{1,2}:[0-9]{2}\s*(?:AM|PM)\b`)

	whitespace = regexp.MustCompile(`\s+`)
)

// noiseGlyphs are leftovers OCR tends to produce where an icon sits in the
// table. A row whose event is only one of these keeps an empty event.
var noiseGlyphs = map[string]bool{
	"@": true,
	"#": true,
	"®": true,
	"©": true,
}

// Extract turns raw OCR text into table rows. Lines without an amount are
// skipped. Every amount on a line yields its own row, all paired with the
// first time token on that line.
func Extract(text string) []Row {
	rows := make([]Row, 0)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		amounts := amountPattern.FindAllString(line, -1)
		if len(amounts) == 0 {
			continue
		}

		clock := ""
		if found := timePattern.FindString(line); found != "" {
			clock = strings.TrimSpace(found)
		}

		event := eventText(line)

		for _, token := range amounts {
			amount, err := parseAmount(token)
			if err != nil {
				continue
			}
			rows = append(rows, NewRow(event, clock, amount))
		}
	}

	return rows
}

// eventText is whatever remains once amounts and times are cut out
func eventText(line string) string {
	event := amountPattern.ReplaceAllString(line, "")
	event = timePattern.ReplaceAllString(event, "")
	event = strings.TrimSpace(whitespace.ReplaceAllString(event, " "))
	if noiseGlyphs[event] {
		return ""
	}
	return event
}

func parseAmount(token string) (decimal.Decimal, error) {
	raw := strings.NewReplacer("$", "", ",", "").Replace(token)
	return decimal.NewFromString(raw)
}
