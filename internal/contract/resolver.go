// Package contract picks the option series the next position is written on.
// The resolver walks the trading calendar (permitted weekdays minus bank
// holidays) and is the single source of truth for expiry rollover: every
// expiry it hands out is strictly later than the previous one.
package contract

import (
	"errors"
	"fmt"
	"time"

	"es-option-bot/internal/models"
)

// ErrNoEligibleContract is returned when no tradable expiry exists within
// the resolver's horizon.
var ErrNoEligibleContract = errors.New("no eligible contract within horizon")

const dateLayout = "2006-01-02"

// Resolver derives dated futures-option descriptors from a base template.
type Resolver struct {
	base        models.ContractDescriptor
	weekdays    map[time.Weekday]bool
	holidays    map[string]bool
	horizonDays int
	now         func() time.Time
}

// NewResolver builds a resolver. base carries the symbol, exchange, right,
// strike basis and multiplier; expiry and strike are filled in per trade.
func NewResolver(base models.ContractDescriptor, weekdays []time.Weekday, holidays []time.Time, horizonDays int) *Resolver {
	wd := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		wd[d] = true
	}
	hd := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hd[h.Format(dateLayout)] = true
	}
	return &Resolver{
		base:        base,
		weekdays:    wd,
		holidays:    hd,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// WithClock overrides the resolver's clock. Tests only.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Underlying returns the continuous future the option is written against.
func (r *Resolver) Underlying() models.ContractDescriptor {
	return r.base.Underlying()
}

// NextExpiry returns the earliest trading-calendar date that is on or after
// today and strictly after the previous expiry. The scan stops at the
// horizon; past it, ErrNoEligibleContract is returned.
func (r *Resolver) NextExpiry(after time.Time) (time.Time, error) {
	today := dateOnly(r.now().UTC())

	for i := 0; i <= r.horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if !r.weekdays[day.Weekday()] {
			continue
		}
		if r.holidays[day.Format(dateLayout)] {
			continue
		}
		if !after.IsZero() && !day.After(dateOnly(after)) {
			continue
		}
		return day, nil
	}
	return time.Time{}, fmt.Errorf("%w: none in the next %d days", ErrNoEligibleContract, r.horizonDays)
}

// Resolve returns the option descriptor for the next eligible expiry. The
// strike is left unset; the execution engine derives it from a fresh
// reference quote.
func (r *Resolver) Resolve(after time.Time) (models.ContractDescriptor, error) {
	expiry, err := r.NextExpiry(after)
	if err != nil {
		return models.ContractDescriptor{}, err
	}
	c := r.base
	c.SecType = models.SecurityFuturesOption
	c.Expiry = expiry
	return c, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
