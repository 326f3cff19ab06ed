package store

import "github.com/gstripling00/prompt-system/internal/db"

// Provide creates the catalog store on the warehouse pool and ensures its schema.
func Provide(pool *db.Pool) (*sqlRepository, func() error, error) {
	repo, err := newSQLRepository(pool)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}
