// Package app wires a workspace into a ready-to-use engine: database,
// migrations, and workspace config resolution live here so the CLI and
// server share one bootstrap path.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/engine"
	"testline/internal/migrate"
	"testline/internal/repo"
)

// Open opens the workspace database and applies migrations.
func Open(workspace string) (*sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// NewEngine builds an engine for the workspace. The workspace config file
// is optional; a missing one falls back to defaults keyed to the active
// project.
func NewEngine(conn *sql.DB, workspace string) (*engine.Engine, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("")
	}
	return engine.New(conn, cfg), nil
}

// ResolveProject picks the active project: the override wins, then the
// config file, then a lone project in the database.
func ResolveProject(ctx context.Context, r repo.Repo, cfg *config.Config, override string) (string, error) {
	if override != "" {
		if _, err := r.GetProject(ctx, override); err != nil {
			return "", fmt.Errorf("project %s: %w", override, err)
		}
		return override, nil
	}
	if cfg != nil && cfg.Project.ID != "" {
		if _, err := r.GetProject(ctx, cfg.Project.ID); err == nil {
			return cfg.Project.ID, nil
		}
	}
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", errors.New("no projects; create one with tl project create")
	case 1:
		return projects[0].ID, nil
	default:
		return "", errors.New("multiple projects exist; specify --project")
	}
}
