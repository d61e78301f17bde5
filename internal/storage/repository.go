// Package storage groups the persistence interfaces the domain services
// consume. Each domain package defines its own repository contract; this
// package only bundles them for wiring.
package storage

import (
	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

// Repository groups data access by domain.
type Repository interface {
	Users() users.Repository
	Tokens() tokens.Repository
	Events() events.Repository
}
