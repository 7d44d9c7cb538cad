package storage

import "errors"

// ErrTradeOpen is returned when opening a trade while one is already open
var ErrTradeOpen = errors.New("a trade is already open")

// ErrNoOpenTrade is returned when closing a trade and none is open
var ErrNoOpenTrade = errors.New("no open trade")
