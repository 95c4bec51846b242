// Package database bounds every statement with a deadline chosen by the
// kind of work it does.
package database

import (
	"context"
	"time"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	// Sweeps and batch inserts touch many rows.
	DefaultBulkTimeout = 30 * time.Second
)

// Timeouts holds the per-class statement deadlines. A zero field falls back
// to its default.
type Timeouts struct {
	Query time.Duration
	Write time.Duration
	Bulk  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Query: DefaultQueryTimeout, Write: DefaultWriteTimeout, Bulk: DefaultBulkTimeout}
}

// Resolved fills zero fields with the defaults.
func (t Timeouts) Resolved() Timeouts {
	if t.Query <= 0 {
		t.Query = DefaultQueryTimeout
	}
	if t.Write <= 0 {
		t.Write = DefaultWriteTimeout
	}
	if t.Bulk <= 0 {
		t.Bulk = DefaultBulkTimeout
	}
	return t
}

// ForQuery scopes a read.
func (t Timeouts) ForQuery(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.Resolved().Query)
}

// ForWrite scopes a single-row insert or update.
func (t Timeouts) ForWrite(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.Resolved().Write)
}

func (t Timeouts) ForBulk(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.Resolved().Bulk)
}
