package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"testline/internal/config"
	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/graph"
	"testline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// Selection is the in-memory working cursor used by interactive
	// clients; it does not survive the process.
	Selection Selection
}

type Selection struct {
	ProjectID   string
	TestSuiteID string
	TestCaseID  string
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	// method value so event timestamps follow a Now swapped in later
	e.Events = events.Writer{DB: db, Now: e.now}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) newID(parts ...string) string {
	seed := e.timestamp()
	for _, p := range parts {
		seed += "|" + p
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// CreateProject creates a project together with its default suite so a
// fresh project is immediately usable.
func (e *Engine) CreateProject(ctx context.Context, name, description, ownerID string, members []string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          e.newID("project", name),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Members:     members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	suite := domain.TestSuite{
		ID:          e.newID("suite", p.ID, "Default Test Suite"),
		ProjectID:   p.ID,
		Name:        "Default Test Suite",
		Description: "Default test suite for " + name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.InsertSuite(ctx, tx, suite); err != nil {
		return domain.Project{}, fmt.Errorf("insert default suite: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.TestSuites = []domain.TestSuite{suite}
	e.Selection = Selection{ProjectID: p.ID}
	return p, nil
}

func (e *Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	suites, err := e.Repo.ListSuites(ctx, p.ID)
	if err != nil {
		return p, err
	}
	for i := range suites {
		if suites[i].TestCases, err = e.Repo.ListCases(ctx, suites[i].ID); err != nil {
			return p, err
		}
	}
	p.TestSuites = suites
	return p, nil
}

func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e *Engine) UpdateProject(ctx context.Context, id string, name, description *string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateProject(ctx, tx, id, name, description, e.timestamp()); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", id, "project", id, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.GetProject(ctx, id)
}

func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", id, "project", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) CreateTestSuite(ctx context.Context, projectID, name, description string) (domain.TestSuite, error) {
	if name == "" {
		return domain.TestSuite{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.TestSuite{}, err
	}
	now := e.timestamp()
	s := domain.TestSuite{
		ID:          e.newID("suite", projectID, name),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TestSuite{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertSuite(ctx, tx, s); err != nil {
		return domain.TestSuite{}, err
	}
	if err := e.Events.Append(ctx, tx, "suite.created", projectID, "suite", s.ID, events.EventPayload{"name": s.Name}); err != nil {
		return domain.TestSuite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestSuite{}, err
	}
	return s, nil
}

func (e *Engine) GetTestSuite(ctx context.Context, id string) (domain.TestSuite, error) {
	s, err := e.Repo.GetSuite(ctx, id)
	if err != nil {
		return s, err
	}
	s.TestCases, err = e.Repo.ListCases(ctx, s.ID)
	return s, err
}

func (e *Engine) UpdateTestSuite(ctx context.Context, id string, name, description *string) (domain.TestSuite, error) {
	s, err := e.Repo.GetSuite(ctx, id)
	if err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateSuite(ctx, tx, id, name, description, e.timestamp()); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "suite.updated", s.ProjectID, "suite", id, nil); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.GetTestSuite(ctx, id)
}

func (e *Engine) DeleteTestSuite(ctx context.Context, id string) error {
	s, err := e.Repo.GetSuite(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteSuite(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "suite.deleted", s.ProjectID, "suite", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CaseCreateOptions are parameters for creating a test case.
type CaseCreateOptions struct {
	TestSuiteID  string
	Name         string
	Description  string
	Requirement  string
	Target       string
	Type         string
	Status       string
	Steps        []domain.TestStep
	Dependencies []string
	SharedData   map[string]any
}

func (e *Engine) CreateTestCase(ctx context.Context, opts CaseCreateOptions) (domain.TestCase, error) {
	if opts.Name == "" {
		return domain.TestCase{}, errors.New("name is required")
	}
	suite, err := e.Repo.GetSuite(ctx, opts.TestSuiteID)
	if err != nil {
		return domain.TestCase{}, err
	}
	if opts.Type == "" {
		opts.Type = "positive"
	}
	if opts.Status == "" {
		opts.Status = "draft"
	}
	now := e.timestamp()
	tc := domain.TestCase{
		ID:           e.newID("case", opts.TestSuiteID, opts.Name),
		TestSuiteID:  opts.TestSuiteID,
		Name:         opts.Name,
		Description:  opts.Description,
		Requirement:  opts.Requirement,
		Target:       opts.Target,
		Type:         opts.Type,
		Status:       opts.Status,
		Dependencies: opts.Dependencies,
		SharedData:   opts.SharedData,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i := range opts.Steps {
		s := opts.Steps[i]
		s.TestCaseID = tc.ID
		if s.ID == "" {
			s.ID = e.newID("step", tc.ID, fmt.Sprint(i))
		}
		if s.Order == 0 {
			s.Order = i + 1
		}
		tc.Steps = append(tc.Steps, s)
	}
	if len(tc.Dependencies) > 0 {
		if err := e.checkDependencies(ctx, tc.ID, suite.ProjectID, tc.Dependencies); err != nil {
			return domain.TestCase{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TestCase{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, tc); err != nil {
		return domain.TestCase{}, err
	}
	if err := e.Events.Append(ctx, tx, "case.created", suite.ProjectID, "case", tc.ID, events.EventPayload{"name": tc.Name, "status": tc.Status}); err != nil {
		return domain.TestCase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestCase{}, err
	}
	return tc, nil
}

func (e *Engine) GetTestCase(ctx context.Context, id string) (domain.TestCase, error) {
	return e.Repo.GetCase(ctx, id)
}

// CaseUpdateOptions restricts updates to the writable case fields; ids,
// steps, dependencies and timestamps are managed by their own operations.
type CaseUpdateOptions struct {
	Name        *string
	Description *string
	Requirement *string
	Target      *string
	Type        *string
	Status      *string
	SharedData  *map[string]any
}

func (e *Engine) UpdateTestCase(ctx context.Context, id string, opts CaseUpdateOptions) (domain.TestCase, error) {
	tc, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return tc, err
	}
	if opts.Type != nil && !validCaseType(*opts.Type) {
		return tc, fmt.Errorf("invalid case type %s", *opts.Type)
	}
	if opts.Status != nil && !validCaseStatus(*opts.Status) {
		return tc, fmt.Errorf("invalid case status %s", *opts.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return tc, err
	}
	defer tx.Rollback()

	upd := repo.CaseUpdate{
		Name:        opts.Name,
		Description: opts.Description,
		Requirement: opts.Requirement,
		Target:      opts.Target,
		Type:        opts.Type,
		Status:      opts.Status,
		SharedData:  opts.SharedData,
	}
	if err := e.Repo.UpdateCase(ctx, tx, id, upd, e.timestamp()); err != nil {
		return tc, err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "case.updated", projectID, "case", id, nil); err != nil {
		return tc, err
	}
	if err := tx.Commit(); err != nil {
		return tc, err
	}
	return e.Repo.GetCase(ctx, id)
}

func (e *Engine) DeleteTestCase(ctx context.Context, id string) error {
	tc, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteCase(ctx, tx, id); err != nil {
		return err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "case.deleted", projectID, "case", id, events.EventPayload{"name": tc.Name}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Selection.TestCaseID == id {
		e.Selection.TestCaseID = ""
	}
	return nil
}

// AddTestStep inserts a step, honoring an explicit positive Order. When
// Order is unset the step goes at the end, one past the current maximum
// rather than len+1, so gaps left by deletions never produce duplicate
// orders.
func (e *Engine) AddTestStep(ctx context.Context, caseID string, step domain.TestStep) (domain.TestStep, error) {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.TestStep{}, err
	}
	if !validStepAction(step.Action) {
		return domain.TestStep{}, fmt.Errorf("invalid step action %s", step.Action)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TestStep{}, err
	}
	defer tx.Rollback()

	max, err := e.Repo.MaxStepOrder(ctx, tx, caseID)
	if err != nil {
		return domain.TestStep{}, err
	}
	step.TestCaseID = caseID
	if step.Order <= 0 {
		step.Order = max + 1
	}
	if step.ID == "" {
		step.ID = e.newID("step", caseID, fmt.Sprint(step.Order))
	}
	if err := e.Repo.InsertStep(ctx, tx, step); err != nil {
		return domain.TestStep{}, err
	}
	if err := e.touchCase(ctx, tx, caseID); err != nil {
		return domain.TestStep{}, err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "step.added", projectID, "case", caseID, events.EventPayload{"step_id": step.ID, "order": step.Order}); err != nil {
		return domain.TestStep{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestStep{}, err
	}
	return step, nil
}

func (e *Engine) UpdateTestStep(ctx context.Context, stepID string, upd repo.StepUpdate) (domain.TestStep, error) {
	s, err := e.Repo.GetStep(ctx, stepID)
	if err != nil {
		return s, err
	}
	if upd.Action != nil && !validStepAction(*upd.Action) {
		return s, fmt.Errorf("invalid step action %s", *upd.Action)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateStep(ctx, tx, stepID, upd); err != nil {
		return s, err
	}
	if err := e.touchCase(ctx, tx, s.TestCaseID); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.Repo.GetStep(ctx, stepID)
}

func (e *Engine) DeleteTestStep(ctx context.Context, stepID string) error {
	s, err := e.Repo.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteStep(ctx, tx, stepID); err != nil {
		return err
	}
	if err := e.touchCase(ctx, tx, s.TestCaseID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderTestSteps replaces the case's step sequence wholesale. The given
// step ids must be exactly the case's current steps; orders are rewritten
// to 1..N in the given order.
func (e *Engine) ReorderTestSteps(ctx context.Context, caseID string, stepIDs []string) ([]domain.TestStep, error) {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.TestStep, len(tc.Steps))
	for _, s := range tc.Steps {
		byID[s.ID] = s
	}
	if len(stepIDs) != len(tc.Steps) {
		return nil, fmt.Errorf("reorder needs all %d steps, got %d", len(tc.Steps), len(stepIDs))
	}
	ordered := make([]domain.TestStep, 0, len(stepIDs))
	seen := map[string]bool{}
	for _, id := range stepIDs {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("step %s not in case %s", id, caseID)
		}
		if seen[id] {
			return nil, fmt.Errorf("step %s listed twice", id)
		}
		seen[id] = true
		ordered = append(ordered, s)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.ReplaceSteps(ctx, tx, caseID, ordered); err != nil {
		return nil, err
	}
	if err := e.touchCase(ctx, tx, caseID); err != nil {
		return nil, err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "steps.reordered", projectID, "case", caseID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListSteps(ctx, caseID)
}

// AddDependency records that caseID depends on dependsOnID, refusing
// edges that would close a loop.
func (e *Engine) AddDependency(ctx context.Context, caseID, dependsOnID string) error {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetCase(ctx, dependsOnID); err != nil {
		return err
	}
	projectID, err := e.caseProjectID(ctx, tc)
	if err != nil {
		return err
	}
	if err := e.checkDependencies(ctx, caseID, projectID, []string{dependsOnID}); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.AddDependencies(ctx, tx, caseID, []string{dependsOnID}); err != nil {
		return err
	}
	if err := e.touchCase(ctx, tx, caseID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "dependency.added", projectID, "case", caseID, events.EventPayload{"depends_on": dependsOnID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) RemoveDependency(ctx context.Context, caseID, dependsOnID string) error {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RemoveDependencies(ctx, tx, caseID, []string{dependsOnID}); err != nil {
		return err
	}
	if err := e.touchCase(ctx, tx, caseID); err != nil {
		return err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "dependency.removed", projectID, "case", caseID, events.EventPayload{"depends_on": dependsOnID}); err != nil {
		return err
	}
	return tx.Commit()
}

// DependencyTree resolves a case's dependency graph into a tree. Cases
// referenced from several places appear once per branch; dangling
// references are dropped.
func (e *Engine) DependencyTree(ctx context.Context, caseID string) (*domain.DependencyNode, error) {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	projectID, err := e.caseProjectID(ctx, tc)
	if err != nil {
		return nil, err
	}
	cases, err := e.Repo.ListProjectCases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return graph.BuildTree(caseID, graph.MapLookup(cases)), nil
}

// checkDependencies rejects an edge set that would close a loop once added.
func (e *Engine) checkDependencies(ctx context.Context, caseID, projectID string, dependsOn []string) error {
	cases, err := e.Repo.ListProjectCases(ctx, projectID)
	if err != nil {
		return err
	}
	lookup := graph.MapLookup(cases)
	for _, dep := range dependsOn {
		if graph.WouldCycle(caseID, dep, lookup) {
			return fmt.Errorf("dependency %s -> %s would create a cycle", caseID, dep)
		}
	}
	return nil
}

func (e *Engine) caseProjectID(ctx context.Context, tc domain.TestCase) (string, error) {
	s, err := e.Repo.GetSuite(ctx, tc.TestSuiteID)
	if err != nil {
		return "", err
	}
	return s.ProjectID, nil
}

func (e *Engine) touchCase(ctx context.Context, tx *sql.Tx, caseID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE cases SET updated_at=? WHERE id=?`, e.timestamp(), caseID)
	return err
}

// SelectProject moves the working cursor, clearing the narrower levels.
func (e *Engine) SelectProject(ctx context.Context, id string) error {
	if id != "" {
		if _, err := e.Repo.GetProject(ctx, id); err != nil {
			return err
		}
	}
	e.Selection = Selection{ProjectID: id}
	return nil
}

// SelectTestSuite narrows the cursor to a suite. A suite that is not
// under the selected project never reparents the cursor: the suite and
// case levels are cleared and ErrNotFound comes back.
func (e *Engine) SelectTestSuite(ctx context.Context, id string) error {
	if id == "" {
		e.Selection.TestSuiteID = ""
		e.Selection.TestCaseID = ""
		return nil
	}
	s, err := e.Repo.GetSuite(ctx, id)
	if err != nil {
		return err
	}
	if e.Selection.ProjectID != "" && s.ProjectID != e.Selection.ProjectID {
		e.Selection.TestSuiteID = ""
		e.Selection.TestCaseID = ""
		return fmt.Errorf("suite %s not in project %s: %w", id, e.Selection.ProjectID, repo.ErrNotFound)
	}
	e.Selection = Selection{ProjectID: s.ProjectID, TestSuiteID: id}
	return nil
}

// SelectTestCase narrows the cursor to a case, widening unset ancestor
// levels to match. A case outside the selected project or suite clears
// the case level and returns ErrNotFound.
func (e *Engine) SelectTestCase(ctx context.Context, id string) error {
	if id == "" {
		e.Selection.TestCaseID = ""
		return nil
	}
	tc, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetSuite(ctx, tc.TestSuiteID)
	if err != nil {
		return err
	}
	if (e.Selection.ProjectID != "" && s.ProjectID != e.Selection.ProjectID) ||
		(e.Selection.TestSuiteID != "" && s.ID != e.Selection.TestSuiteID) {
		e.Selection.TestCaseID = ""
		return fmt.Errorf("case %s outside the current selection: %w", id, repo.ErrNotFound)
	}
	e.Selection = Selection{ProjectID: s.ProjectID, TestSuiteID: s.ID, TestCaseID: id}
	return nil
}

func validCaseType(t string) bool {
	switch t {
	case "positive", "negative", "edge_case":
		return true
	}
	return false
}

func validCaseStatus(s string) bool {
	switch s {
	case "draft", "ready", "running", "passed", "failed", "blocked":
		return true
	}
	return false
}

func validStepAction(a string) bool {
	switch a {
	case "navigate", "click", "fill", "assert", "wait", "hover":
		return true
	}
	return false
}
