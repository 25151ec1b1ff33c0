// Package store defines the record store contract shared by the SQL and
// in-memory implementations.
package store

import (
	"context"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
)

// Store persists enriched leads and the append-only event log.
//
// ReplaceAll supersedes every stored lead in one observable step: a
// concurrent Query sees either the old set or the new one.
type Store interface {
	ReplaceAll(ctx context.Context, leads []lead.Lead) error
	Query(ctx context.Context, f Filter) ([]lead.Lead, error)
	AppendEvent(ctx context.Context, e lead.Event) (lead.Event, error)
	ListEvents(ctx context.Context) ([]lead.Event, error)
	Ping(ctx context.Context) error
	Close() error
}
