// Package models provides the data structures shared by the trading loop:
// contract descriptors, reference quotes, orders and positions.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SecurityType identifies the kind of instrument a descriptor refers to.
type SecurityType string

const (
	// SecurityFuture is a continuous or dated futures contract.
	SecurityFuture SecurityType = "FUT"
	// SecurityFuturesOption is an option on a futures contract.
	SecurityFuturesOption SecurityType = "FOP"
)

// Right is the option right of a futures-option leg.
type Right string

const (
	// RightCall is a call option.
	RightCall Right = "C"
	// RightPut is a put option.
	RightPut Right = "P"
)

// Side is the direction of an order.
type Side string

const (
	// SideBuy buys the contract.
	SideBuy Side = "BUY"
	// SideSell sells (writes) the contract.
	SideSell Side = "SELL"
)

// Opposite returns the flattening side for an entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ContractDescriptor identifies a tradable instrument and the attributes
// needed to derive an option leg from it. It is an immutable value; methods
// that change attributes return a copy.
type ContractDescriptor struct {
	Symbol      string          `json:"symbol"`
	SecType     SecurityType    `json:"sec_type"`
	Exchange    string          `json:"exchange"`
	Expiry      time.Time       `json:"expiry,omitempty"`
	Strike      decimal.Decimal `json:"strike,omitempty"`
	Right       Right           `json:"right,omitempty"`
	StrikeBasis decimal.Decimal `json:"strike_basis,omitempty"`
	Multiplier  int             `json:"multiplier,omitempty"`
}

// WithStrike returns a copy of the descriptor with the strike set.
func (c ContractDescriptor) WithStrike(strike decimal.Decimal) ContractDescriptor {
	c.Strike = strike
	return c
}

// Underlying returns the continuous-future descriptor the option leg is
// derived from.
func (c ContractDescriptor) Underlying() ContractDescriptor {
	return ContractDescriptor{
		Symbol:   c.Symbol,
		SecType:  SecurityFuture,
		Exchange: c.Exchange,
	}
}

// LocalName renders the descriptor the way trade logs and reports show it,
// e.g. "ES 20260904 C5850 GLOBEX".
func (c ContractDescriptor) LocalName() string {
	if c.SecType == SecurityFuture {
		return fmt.Sprintf("%s %s", c.Symbol, c.Exchange)
	}
	return fmt.Sprintf("%s %s %s%s %s",
		c.Symbol, c.Expiry.Format("20060102"), c.Right, c.Strike.String(), c.Exchange)
}

// ReferenceQuote is an immutable snapshot of the underlying future's price,
// together with the descriptor the price was observed on. A fresh quote is
// fetched for every entry attempt; quotes are never mutated.
type ReferenceQuote struct {
	Price    decimal.Decimal    `json:"price"`
	At       time.Time          `json:"at"`
	Contract ContractDescriptor `json:"contract"`
}
