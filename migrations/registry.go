package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	ingest "github.com/goliatone/go-webhook-ingest"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// FilesystemSpec pairs one SQL dialect with the filesystem holding its
// migration files.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives one dialect's migration filesystem, typically
// persistence.Client.RegisterSQLMigrations behind a dialect filter.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Filesystems resolves the per-dialect migration filesystems out of the
// embedded tree: postgres at the root, sqlite under sqlite/. Passing an
// explicit source overrides the embedded tree, used by tests.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := ingest.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: data/sql/migrations not found: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register feeds each requested dialect's filesystem to registerFn. Leaving
// dialects empty registers every dialect the tree ships.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}

	wanted := map[string]struct{}{}
	for _, dialect := range dialects {
		trimmed := strings.TrimSpace(strings.ToLower(dialect))
		if trimmed != "" {
			wanted[trimmed] = struct{}{}
		}
	}

	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, fsys := range filesystems {
		if len(wanted) > 0 {
			if _, ok := wanted[fsys.Dialect]; !ok {
				continue
			}
		}
		if err := registerFn(ctx, fsys.Dialect, "go-webhook-ingest", fsys.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
		registered = append(registered, fsys)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no dialect matched %v", dialects)
	}
	return registered, nil
}
