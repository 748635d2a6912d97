package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/generate"
)

// GenerateTestCase runs the generation stub against a suite and persists
// the result: the new case, its steps and dependency edges, plus one
// shared-data row per produced value so dependent cases can consume them.
func (e *Engine) GenerateTestCase(ctx context.Context, suiteID, requirement string, dependencies []string) (domain.TestCase, error) {
	suite, err := e.Repo.GetSuite(ctx, suiteID)
	if err != nil {
		return domain.TestCase{}, err
	}
	var deps []domain.TestCase
	for _, depID := range dependencies {
		dep, err := e.Repo.GetCase(ctx, depID)
		if err != nil {
			return domain.TestCase{}, fmt.Errorf("dependency %s: %w", depID, err)
		}
		deps = append(deps, dep)
	}

	gen := generate.Generator{
		NewID: e.newID,
		Now:   e.now,
	}
	if e.Config != nil {
		gen.Delay = time.Duration(e.Config.Generation.DelayMS) * time.Millisecond
		gen.NamePrefixLen = e.Config.Generation.NamePrefixLen
	}
	res, err := gen.Generate(ctx, suiteID, requirement, deps)
	if err != nil {
		return domain.TestCase{}, err
	}
	tc := res.Case

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return tc, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, tc); err != nil {
		return tc, err
	}
	now := e.timestamp()
	for key, value := range res.SharedData {
		raw, err := json.Marshal(value)
		if err != nil {
			return tc, fmt.Errorf("shared value %s: %w", key, err)
		}
		item := domain.SharedDataItem{
			ID:           e.newID("data", key),
			Key:          key,
			ValueJSON:    string(raw),
			Description:  "Generated for " + tc.Name,
			SourceCaseID: tc.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := e.Repo.UpsertSharedData(ctx, tx, item); err != nil {
			return tc, err
		}
	}
	if err := e.Events.Append(ctx, tx, "case.generated", suite.ProjectID, "case", tc.ID, events.EventPayload{
		"name":         tc.Name,
		"requirement":  requirement,
		"dependencies": dependencies,
	}); err != nil {
		return tc, err
	}
	if err := tx.Commit(); err != nil {
		return tc, err
	}
	return tc, nil
}
