package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/database"
	"github.com/nerrad567/houseflow-core/migrations"
)

// RollbackHistory reverts the newest schema migration of the history
// database named in the config at path. The daemon must not be running.
func RollbackHistory(ctx context.Context, w io.Writer, path string, role config.Role) error {
	cfg, err := config.Load(path, role)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	version, err := db.MigrateDown(ctx, migrations.FS)
	if err != nil {
		return err
	}
	if version == "" {
		_, err = fmt.Fprintln(w, "no migrations applied")
		return err
	}
	_, err = fmt.Fprintf(w, "rolled back %s\n", version)
	return err
}
