package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// reminderAge is how long a payout may sit awaiting approval before the
// processor starts nudging.
const reminderAge = 30 * time.Minute

// Processor periodically reminds about payouts stuck in the approval
// queue. It never sends funds itself; sending stays behind the operator
// approval endpoint.
type Processor struct {
	db       *Database
	interval time.Duration
}

func NewProcessor(db *Database, interval time.Duration) *Processor {
	return &Processor{
		db:       db,
		interval: interval,
	}
}

// Start begins the approval reminder loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting settlement processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.remindPending(); err != nil {
				logger.Error().Err(err).Msg("failed to process pending payouts")
			}
		}
	}
}

func (p *Processor) remindPending() error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	pending, err := p.db.GetRequestedBefore(time.Now().Add(-reminderAge))
	if err != nil {
		return fmt.Errorf("failed to select pending payouts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var total int64
	for _, payout := range pending {
		total += payout.Gross
	}

	logger.Warn().
		Int("pending_count", len(pending)).
		Int64("total_gross", total).
		Str("oldest_payout_id", pending[0].PayoutID).
		Time("oldest_requested_at", pending[0].CreatedAt).
		Msg("payouts awaiting operator approval")
	return nil
}
