// Package records is the boundary to the external storage collaborator. It
// consumes terminal battle outcomes and nothing else; a failing sink is
// logged and never blocks or fails a session.
package records

import (
	"context"
	"time"
)

// Outcome is the terminal result of one finished battle.
type Outcome struct {
	SessionID     string
	WinnerAddress string
	WinnerName    string
	LoserAddress  string
	LoserName     string
	Forfeit       bool
	Turns         int
	TotalDamage   int
	ElementsUsed  []string
	Duration      time.Duration
	EndedAt       time.Time
}

// Sink persists finished battles.
type Sink interface {
	Record(ctx context.Context, o Outcome) error
}

// Discard drops every outcome. Used in tests and when no DSN is configured.
type Discard struct{}

func (Discard) Record(context.Context, Outcome) error { return nil }
