package table

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SelectAlertable picks the row to alert on from a batch of new rows.
//
// A row qualifies when its amount is strictly above threshold and both event
// and time were recognised. Among qualifying rows the largest amount wins;
// on a tie the earliest row in scan order is kept. The boolean is false when
// nothing qualifies, which simply means no alert this cycle.
func SelectAlertable(rows []Row, threshold decimal.Decimal) (Row, bool) {
	var (
		best  Row
		found bool
	)

	for _, row := range rows {
		if !row.Amount.GreaterThan(threshold) {
			continue
		}
		if strings.TrimSpace(row.Event) == "" || strings.TrimSpace(row.Time) == "" {
			continue
		}
		if !found || row.Amount.GreaterThan(best.Amount) {
			best = row
			found = true
		}
	}

	return best, found
}
