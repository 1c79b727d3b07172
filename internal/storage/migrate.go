package storage

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Migrate creates tables, change feed triggers and the direct channel function when they are missing
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Info("Applying database schema")

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	s.logger.Info("Database schema is up to date")

	return nil
}
