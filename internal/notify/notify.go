package notify

import (
	"context"
	"strconv"
	"time"
)

// Recipient is a Telegram chat id
type Recipient int64

func (r Recipient) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// RecipientSource lists who should receive alerts right now
type RecipientSource interface {
	Recipients(ctx context.Context) ([]Recipient, error)
}

// Sender delivers one photo with a caption to one recipient
type Sender interface {
	SendPhoto(ctx context.Context, recipient Recipient, imagePath, caption string) error
}

// DeliveryResult is the outcome of one delivery attempt
type DeliveryResult struct {
	Recipient Recipient `json:"recipient"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}
