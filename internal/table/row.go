package table

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one parsed observation from an OCR pass
type Row struct {
	Event  string          `json:"event"`
	Time   string          `json:"time"`
	Amount decimal.Decimal `json:"amount"`
	ID     string          `json:"unique_id"`
}

// NewRow builds a row and derives its identity
func NewRow(event, clock string, amount decimal.Decimal) Row {
	return Row{
		Event:  event,
		Time:   clock,
		Amount: amount,
		ID:     IdentityOf(clock, amount),
	}
}

// IdentityOf digests time and amount only. Event text is left out because OCR
// misreads words far more often than digits, and a misread label must not turn
// an already seen row into a new one.
func IdentityOf(clock string, amount decimal.Decimal) string {
	combined := strings.TrimSpace(clock) + "|" + amount.StringFixed(2)
	sum := md5.Sum([]byte(combined))
	return hex.EncodeToString(sum[:])
}
