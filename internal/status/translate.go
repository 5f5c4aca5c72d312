// Package status collapses venue-native order status vocabularies into the
// common lifecycle. Translation is a pure function of the raw status plus
// the filled/remaining quantities; each venue supplies its own lookup table.
package status

import (
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Table maps a venue's literal status strings to common statuses.
type Table map[string]types.OrderStatus

// Translator translates one venue's statuses.
type Translator struct {
	venue  string
	table  Table
	logger *slog.Logger
}

// NewTranslator creates a translator for a venue. A nil logger falls back
// to slog.Default().
func NewTranslator(venue string, table Table, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{venue: venue, table: table, logger: logger}
}

// Translate maps a raw venue status plus quantity fields to the common
// lifecycle. The derived partial-fill rule wins over the literal table:
// filled > 0 with remaining > 0 is PARTIAL no matter what the venue calls
// the order. Unknown literals map to PENDING, never to a terminal status.
func (t *Translator) Translate(raw string, filled, remaining decimal.Decimal) types.OrderStatus {
	if filled.IsPositive() && remaining.IsPositive() {
		return types.StatusPartial
	}

	if s, ok := t.table[raw]; ok {
		return s
	}

	t.logger.Warn("unknown venue order status, treating as pending",
		"venue", t.venue,
		"status", raw,
	)
	return types.StatusPending
}

// Venue returns the venue name this translator serves.
func (t *Translator) Venue() string {
	return t.venue
}
