package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"testline/internal/domain"
	"testline/internal/events"
)

// UpsertSharedData writes a shared value under its key. An existing key is
// updated in place and keeps its id, so references to the item stay valid
// when a producing case rewrites it.
func (e *Engine) UpsertSharedData(ctx context.Context, key, valueJSON, description, sourceCaseID string) (domain.SharedDataItem, error) {
	if key == "" {
		return domain.SharedDataItem{}, errors.New("key is required")
	}
	if !json.Valid([]byte(valueJSON)) {
		return domain.SharedDataItem{}, fmt.Errorf("value for %s is not valid JSON", key)
	}
	if sourceCaseID != "" {
		if _, err := e.Repo.GetCase(ctx, sourceCaseID); err != nil {
			return domain.SharedDataItem{}, fmt.Errorf("source case %s: %w", sourceCaseID, err)
		}
	}
	now := e.timestamp()
	item := domain.SharedDataItem{
		ID:           e.newID("data", key),
		Key:          key,
		ValueJSON:    valueJSON,
		Description:  description,
		SourceCaseID: sourceCaseID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return item, err
	}
	defer tx.Rollback()

	item, err = e.Repo.UpsertSharedData(ctx, tx, item)
	if err != nil {
		return item, err
	}
	if err := e.Events.Append(ctx, tx, "data.upserted", "", "shared_data", item.ID, events.EventPayload{"key": key}); err != nil {
		return item, err
	}
	if err := tx.Commit(); err != nil {
		return item, err
	}
	return item, nil
}

func (e *Engine) ListSharedData(ctx context.Context) ([]domain.SharedDataItem, error) {
	return e.Repo.ListSharedData(ctx)
}

func (e *Engine) ListSharedDataBySource(ctx context.Context, sourceCaseID string) ([]domain.SharedDataItem, error) {
	return e.Repo.ListSharedDataBySource(ctx, sourceCaseID)
}

// UpdateSharedDataValue rewrites the value of an existing item, leaving
// key, source and description alone.
func (e *Engine) UpdateSharedDataValue(ctx context.Context, id, valueJSON string) (domain.SharedDataItem, error) {
	if !json.Valid([]byte(valueJSON)) {
		return domain.SharedDataItem{}, fmt.Errorf("value for %s is not valid JSON", id)
	}
	item, err := e.Repo.GetSharedData(ctx, id)
	if err != nil {
		return item, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return item, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateSharedDataValue(ctx, tx, id, valueJSON, e.timestamp()); err != nil {
		return item, err
	}
	if err := e.Events.Append(ctx, tx, "data.updated", "", "shared_data", id, events.EventPayload{"key": item.Key}); err != nil {
		return item, err
	}
	if err := tx.Commit(); err != nil {
		return item, err
	}
	return e.Repo.GetSharedData(ctx, id)
}

// ClearSharedData wipes the table, or only one case's items when
// sourceCaseID is set. Returns how many items were removed.
func (e *Engine) ClearSharedData(ctx context.Context, sourceCaseID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n, err := e.Repo.ClearSharedData(ctx, tx, sourceCaseID)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "data.cleared", "", "shared_data", sourceCaseID, events.EventPayload{"removed": n}); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// SharedDataObject folds all items into a key→value map, the shape a
// test run consumes.
func (e *Engine) SharedDataObject(ctx context.Context) (map[string]any, error) {
	items, err := e.Repo.ListSharedData(ctx)
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, len(items))
	for _, item := range items {
		var v any
		if err := json.Unmarshal([]byte(item.ValueJSON), &v); err != nil {
			return nil, fmt.Errorf("item %s: %w", item.Key, err)
		}
		obj[item.Key] = v
	}
	return obj, nil
}

func (e *Engine) GetSharedData(ctx context.Context, id string) (domain.SharedDataItem, error) {
	return e.Repo.GetSharedData(ctx, id)
}

func (e *Engine) GetSharedDataByKey(ctx context.Context, key string) (domain.SharedDataItem, error) {
	return e.Repo.GetSharedDataByKey(ctx, key)
}

func (e *Engine) DeleteSharedData(ctx context.Context, id string) error {
	item, err := e.Repo.GetSharedData(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteSharedData(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "data.deleted", "", "shared_data", id, events.EventPayload{"key": item.Key}); err != nil {
		return err
	}
	return tx.Commit()
}
