package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"testline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	for _, m := range p.Members {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id,member_id) VALUES (?,?)`, p.ID, m); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,owner_id,created_at,updated_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Members, err = r.listMembers(ctx, p.ID)
	return p, err
}

func (r Repo) listMembers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT member_id FROM project_members WHERE project_id=? ORDER BY member_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,owner_id,created_at,updated_at FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id string, name, description *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, *description)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSuite(ctx context.Context, tx *sql.Tx, s domain.TestSuite) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO suites(id,project_id,name,description,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Description, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSuite(ctx context.Context, id string) (domain.TestSuite, error) {
	var s domain.TestSuite
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,description,created_at,updated_at FROM suites WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSuites(ctx context.Context, projectID string) ([]domain.TestSuite, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,description,created_at,updated_at FROM suites WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestSuite
	for rows.Next() {
		var s domain.TestSuite
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSuite(ctx context.Context, tx *sql.Tx, id string, name, description *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, *description)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE suites SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSuite(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM suites WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const caseColumns = `id,suite_id,name,description,requirement,COALESCE(target,''),type,status,shared_data_json,created_at,updated_at`

func scanCase(scan func(dest ...any) error) (domain.TestCase, error) {
	var tc domain.TestCase
	var sharedJSON sql.NullString
	err := scan(&tc.ID, &tc.TestSuiteID, &tc.Name, &tc.Description, &tc.Requirement, &tc.Target,
		&tc.Type, &tc.Status, &sharedJSON, &tc.CreatedAt, &tc.UpdatedAt)
	if err == sql.ErrNoRows {
		return tc, ErrNotFound
	}
	if err != nil {
		return tc, err
	}
	if sharedJSON.Valid && sharedJSON.String != "" {
		if err := json.Unmarshal([]byte(sharedJSON.String), &tc.SharedData); err != nil {
			return tc, fmt.Errorf("case %s shared data: %w", tc.ID, err)
		}
	}
	return tc, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, tc domain.TestCase) error {
	sharedJSON, err := marshalSharedData(tc.SharedData)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO cases(id,suite_id,name,description,requirement,target,type,status,shared_data_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		tc.ID, tc.TestSuiteID, tc.Name, tc.Description, tc.Requirement, nullable(tc.Target), tc.Type, tc.Status, sharedJSON, tc.CreatedAt, tc.UpdatedAt)
	if err != nil {
		return err
	}
	for _, s := range tc.Steps {
		if err := r.InsertStep(ctx, tx, s); err != nil {
			return err
		}
	}
	if len(tc.Dependencies) > 0 {
		if err := r.AddDependencies(ctx, tx, tc.ID, tc.Dependencies); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.TestCase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id)
	tc, err := scanCase(row.Scan)
	if err != nil {
		return tc, err
	}
	tc.Steps, err = r.ListSteps(ctx, tc.ID)
	if err != nil {
		return tc, err
	}
	tc.Dependencies, err = r.ListDependencies(ctx, tc.ID)
	return tc, err
}

func (r Repo) ListCases(ctx context.Context, suiteID string) ([]domain.TestCase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE suite_id=? ORDER BY created_at ASC, id ASC`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestCase
	for rows.Next() {
		tc, err := scanCase(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Steps, err = r.ListSteps(ctx, res[i].ID); err != nil {
			return nil, err
		}
		if res[i].Dependencies, err = r.ListDependencies(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListProjectCases returns every case in every suite of a project.
func (r Repo) ListProjectCases(ctx context.Context, projectID string) ([]domain.TestCase, error) {
	suites, err := r.ListSuites(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var res []domain.TestCase
	for _, s := range suites {
		cases, err := r.ListCases(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, cases...)
	}
	return res, nil
}

// CaseUpdate carries the writable fields of a case. Nil means keep.
type CaseUpdate struct {
	Name        *string
	Description *string
	Requirement *string
	Target      *string
	Type        *string
	Status      *string
	SharedData  *map[string]any
}

func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, id string, upd CaseUpdate, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *upd.Description)
	}
	if upd.Requirement != nil {
		fields = append(fields, "requirement=?")
		args = append(args, *upd.Requirement)
	}
	if upd.Target != nil {
		fields = append(fields, "target=?")
		args = append(args, nullable(*upd.Target))
	}
	if upd.Type != nil {
		fields = append(fields, "type=?")
		args = append(args, *upd.Type)
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.SharedData != nil {
		sharedJSON, err := marshalSharedData(*upd.SharedData)
		if err != nil {
			return err
		}
		fields = append(fields, "shared_data_json=?")
		args = append(args, sharedJSON)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStep(ctx context.Context, tx *sql.Tx, s domain.TestStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO steps(id,case_id,ord,description,action,selector,value,expected_outcome) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.TestCaseID, s.Order, s.Description, s.Action, nullable(s.Selector), nullable(s.Value), nullable(s.ExpectedOutcome))
	return err
}

func (r Repo) ListSteps(ctx context.Context, caseID string) ([]domain.TestStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,ord,description,action,COALESCE(selector,''),COALESCE(value,''),COALESCE(expected_outcome,'') FROM steps WHERE case_id=? ORDER BY ord ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestStep
	for rows.Next() {
		var s domain.TestStep
		if err := rows.Scan(&s.ID, &s.TestCaseID, &s.Order, &s.Description, &s.Action, &s.Selector, &s.Value, &s.ExpectedOutcome); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetStep(ctx context.Context, id string) (domain.TestStep, error) {
	var s domain.TestStep
	err := r.DB.QueryRowContext(ctx, `SELECT id,case_id,ord,description,action,COALESCE(selector,''),COALESCE(value,''),COALESCE(expected_outcome,'') FROM steps WHERE id=?`, id).
		Scan(&s.ID, &s.TestCaseID, &s.Order, &s.Description, &s.Action, &s.Selector, &s.Value, &s.ExpectedOutcome)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// StepUpdate carries the writable fields of a step. Nil means keep.
type StepUpdate struct {
	Description     *string
	Action          *string
	Selector        *string
	Value           *string
	ExpectedOutcome *string
}

func (r Repo) UpdateStep(ctx context.Context, tx *sql.Tx, id string, upd StepUpdate) error {
	var (
		fields []string
		args   []any
	)
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *upd.Description)
	}
	if upd.Action != nil {
		fields = append(fields, "action=?")
		args = append(args, *upd.Action)
	}
	if upd.Selector != nil {
		fields = append(fields, "selector=?")
		args = append(args, nullable(*upd.Selector))
	}
	if upd.Value != nil {
		fields = append(fields, "value=?")
		args = append(args, nullable(*upd.Value))
	}
	if upd.ExpectedOutcome != nil {
		fields = append(fields, "expected_outcome=?")
		args = append(args, nullable(*upd.ExpectedOutcome))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE steps SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStep(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSteps swaps a case's step list wholesale, renumbering from 1.
func (r Repo) ReplaceSteps(ctx context.Context, tx *sql.Tx, caseID string, steps []domain.TestStep) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE case_id=?`, caseID); err != nil {
		return err
	}
	for i, s := range steps {
		s.TestCaseID = caseID
		s.Order = i + 1
		if err := r.InsertStep(ctx, tx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) MaxStepOrder(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(ord) FROM steps WHERE case_id=?`, caseID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, caseID string, dependsOn []string) error {
	for _, dep := range dependsOn {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO case_deps(case_id,depends_on_id) VALUES (?,?)`, caseID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RemoveDependencies(ctx context.Context, tx *sql.Tx, caseID string, dependsOn []string) error {
	for _, dep := range dependsOn {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_deps WHERE case_id=? AND depends_on_id=?`, caseID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListDependencies(ctx context.Context, caseID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_id FROM case_deps WHERE case_id=? ORDER BY depends_on_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ListDependents returns ids of cases that depend on the given case.
func (r Repo) ListDependents(ctx context.Context, caseID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id FROM case_deps WHERE depends_on_id=? ORDER BY case_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func marshalSharedData(data map[string]any) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
