package notify

import (
	"context"
	"log/slog"

	"github.com/zombor/screen-watchdog/internal/failure"
)

// Fanout sends one alert to every current recipient. A failed delivery never
// stops the others and is not retried.
type Fanout struct {
	source     RecipientSource
	sender     Sender
	timeSource TimeSource
}

// NewFanout creates a Fanout with the default time source
func NewFanout(source RecipientSource, sender Sender) *Fanout {
	return &Fanout{
		source:     source,
		sender:     sender,
		timeSource: &defaultTimeSource{},
	}
}

// NewFanoutWithDeps creates a Fanout with a custom time source for testing
func NewFanoutWithDeps(source RecipientSource, sender Sender, timeSrc TimeSource) *Fanout {
	return &Fanout{
		source:     source,
		sender:     sender,
		timeSource: timeSrc,
	}
}

// Notify asks the source for the current recipients and delivers to all of
// them. An unreachable source or an empty list is logged and yields no
// results.
func (f *Fanout) Notify(ctx context.Context, imagePath, caption string) []DeliveryResult {
	recipients, err := f.source.Recipients(ctx)
	if err != nil {
		slog.Warn("Failed to list recipients, alert not sent",
			"error", err,
			"guidance", failure.Guidance(err),
		)
		return nil
	}
	if len(recipients) == 0 {
		slog.Warn("No recipients, alert not sent. Send any message to the bot to subscribe")
		return nil
	}

	return f.Deliver(ctx, recipients, imagePath, caption)
}

// Deliver attempts every recipient in order and reports each outcome
func (f *Fanout) Deliver(ctx context.Context, recipients []Recipient, imagePath, caption string) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(recipients))
	for _, recipient := range recipients {
		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			err = f.sender.SendPhoto(ctx, recipient, imagePath, caption)
		}

		result := DeliveryResult{
			Recipient: recipient,
			OK:        err == nil,
			At:        f.timeSource.Now(),
		}
		if err != nil {
			result.Error = err.Error()
			slog.Warn("Failed to deliver alert",
				"recipient", recipient.String(),
				"error", err,
				"guidance", failure.Guidance(err),
			)
		} else {
			slog.Info("Delivered alert", "recipient", recipient.String())
		}
		results = append(results, result)
	}
	return results
}

// Delivered counts the successful results
func Delivered(results []DeliveryResult) int {
	n := 0
	for _, result := range results {
		if result.OK {
			n++
		}
	}
	return n
}
