package db

import (
	"context"
	"fmt"
)

// Unlike the reference lineage, this schema has no pre/post migration SQL
// scripts checked in alongside it (no collation or extension setup is
// needed for two flat tables), so autoMigrate is gorm.AutoMigrate alone.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.gdb.WithContext(ctx).Exec("CREATE SCHEMA IF NOT EXISTS websets").Error; err != nil {
		return fmt.Errorf("create websets schema: %w", err)
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	return nil
}
