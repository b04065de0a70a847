package repository

import "context"

// Repository is the storage contract shared by devices and connections.
// Lookups and deletes of a missing ID return ErrNotFound.
type Repository[T any, ID comparable] interface {
	// Save inserts the entity or replaces the stored one with the same ID
	Save(ctx context.Context, entity T) (T, error)
	FindByID(ctx context.Context, id ID) (T, error)
	// FindAll returns entities in insertion order
	FindAll(ctx context.Context) ([]T, error)
	DeleteByID(ctx context.Context, id ID) error
	ExistsByID(ctx context.Context, id ID) (bool, error)
}
