package repo

import (
	"context"
	"database/sql"

	"testline/internal/domain"
)

const sharedDataColumns = `id,key,value_json,COALESCE(description,''),COALESCE(source_case_id,''),created_at,updated_at`

func (r Repo) ListSharedData(ctx context.Context) ([]domain.SharedDataItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sharedDataColumns+` FROM shared_data ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SharedDataItem
	for rows.Next() {
		var item domain.SharedDataItem
		if err := rows.Scan(&item.ID, &item.Key, &item.ValueJSON, &item.Description, &item.SourceCaseID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) GetSharedDataByKey(ctx context.Context, key string) (domain.SharedDataItem, error) {
	var item domain.SharedDataItem
	err := r.DB.QueryRowContext(ctx, `SELECT `+sharedDataColumns+` FROM shared_data WHERE key=?`, key).
		Scan(&item.ID, &item.Key, &item.ValueJSON, &item.Description, &item.SourceCaseID, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

func (r Repo) GetSharedData(ctx context.Context, id string) (domain.SharedDataItem, error) {
	var item domain.SharedDataItem
	err := r.DB.QueryRowContext(ctx, `SELECT `+sharedDataColumns+` FROM shared_data WHERE id=?`, id).
		Scan(&item.ID, &item.Key, &item.ValueJSON, &item.Description, &item.SourceCaseID, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

// UpsertSharedData inserts the item or, if the key already exists, updates
// the existing row in place so the row id stays stable across rewrites.
func (r Repo) UpsertSharedData(ctx context.Context, tx *sql.Tx, item domain.SharedDataItem) (domain.SharedDataItem, error) {
	var existingID, createdAt string
	err := tx.QueryRowContext(ctx, `SELECT id,created_at FROM shared_data WHERE key=?`, item.Key).Scan(&existingID, &createdAt)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx, `INSERT INTO shared_data(id,key,value_json,description,source_case_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
			item.ID, item.Key, item.ValueJSON, nullable(item.Description), nullable(item.SourceCaseID), item.CreatedAt, item.UpdatedAt)
		return item, err
	}
	if err != nil {
		return item, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE shared_data SET value_json=?,description=?,source_case_id=?,updated_at=? WHERE id=?`,
		item.ValueJSON, nullable(item.Description), nullable(item.SourceCaseID), item.UpdatedAt, existingID)
	item.ID = existingID
	item.CreatedAt = createdAt
	return item, err
}

// ListSharedDataBySource returns the items a case produced.
func (r Repo) ListSharedDataBySource(ctx context.Context, sourceCaseID string) ([]domain.SharedDataItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sharedDataColumns+` FROM shared_data WHERE source_case_id=? ORDER BY key ASC`, sourceCaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SharedDataItem
	for rows.Next() {
		var item domain.SharedDataItem
		if err := rows.Scan(&item.ID, &item.Key, &item.ValueJSON, &item.Description, &item.SourceCaseID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// UpdateSharedDataValue rewrites only the value of an existing item.
func (r Repo) UpdateSharedDataValue(ctx context.Context, tx *sql.Tx, id, valueJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE shared_data SET value_json=?,updated_at=? WHERE id=?`, valueJSON, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSharedData(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM shared_data WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSharedData removes every item, or only one case's items when
// sourceCaseID is set. Returns the number of rows removed.
func (r Repo) ClearSharedData(ctx context.Context, tx *sql.Tx, sourceCaseID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if sourceCaseID == "" {
		res, err = tx.ExecContext(ctx, `DELETE FROM shared_data`)
	} else {
		res, err = tx.ExecContext(ctx, `DELETE FROM shared_data WHERE source_case_id=?`, sourceCaseID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
