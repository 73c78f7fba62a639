package core

import "context"

type (
	// Store persists committed protocol state. Atomic runs fn so that either
	// all of its writes land or none do.
	Store interface {
		PoolStore
		PositionStore
		EventStore
		AssetStore

		Atomic(ctx context.Context, fn func(Store) error) error
	}

	// Observer is told about pool state and events after every commit.
	Observer interface {
		ObservePool(pool *Pool, now int64)
		ObserveEvent(event *Event)
	}
)
