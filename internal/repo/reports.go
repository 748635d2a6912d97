package repo

import (
	"context"
	"database/sql"

	"testline/internal/domain"
)

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.RunReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(id,case_id,case_name,status,browser,duration_ms,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		rep.ID, rep.TestCaseID, rep.TestCaseName, rep.Status, rep.Browser, rep.DurationMS, rep.StartedAt, rep.FinishedAt)
	if err != nil {
		return err
	}
	for i, log := range rep.Logs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO report_logs(report_id,ord,level,message,at) VALUES (?,?,?,?,?)`,
			rep.ID, i+1, log.Level, log.Message, log.TS); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.RunReport, error) {
	var rep domain.RunReport
	err := r.DB.QueryRowContext(ctx, `SELECT id,case_id,case_name,status,browser,duration_ms,started_at,finished_at FROM reports WHERE id=?`, id).
		Scan(&rep.ID, &rep.TestCaseID, &rep.TestCaseName, &rep.Status, &rep.Browser, &rep.DurationMS, &rep.StartedAt, &rep.FinishedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.Logs, err = r.listReportLogs(ctx, rep.ID)
	return rep, err
}

func (r Repo) listReportLogs(ctx context.Context, reportID string) ([]domain.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT at,level,message FROM report_logs WHERE report_id=? ORDER BY ord ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []domain.LogEntry
	for rows.Next() {
		var l domain.LogEntry
		if err := rows.Scan(&l.TS, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListReports returns reports newest first, optionally filtered by case.
func (r Repo) ListReports(ctx context.Context, caseID string, limit int) ([]domain.RunReport, error) {
	query := `SELECT id,case_id,case_name,status,browser,duration_ms,started_at,finished_at FROM reports`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id=?`
		args = append(args, caseID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunReport
	for rows.Next() {
		var rep domain.RunReport
		if err := rows.Scan(&rep.ID, &rep.TestCaseID, &rep.TestCaseName, &rep.Status, &rep.Browser, &rep.DurationMS, &rep.StartedAt, &rep.FinishedAt); err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}
