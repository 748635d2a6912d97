package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/events"
	"testline/internal/migrate"
	"testline/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	cfg.Generation.DelayMS = 0
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustProject(t *testing.T, env testEnv) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, "Shop", "web shop tests", "owner-1", []string{"qa-1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustCase(t *testing.T, env testEnv, suiteID, name string, deps ...string) domain.TestCase {
	t.Helper()
	tc, err := env.Engine.CreateTestCase(env.Ctx, engine.CaseCreateOptions{
		TestSuiteID:  suiteID,
		Name:         name,
		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("create case %s: %v", name, err)
	}
	return tc
}

func TestCreateProjectMakesDefaultSuite(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	if len(p.TestSuites) != 1 || p.TestSuites[0].Name != "Default Test Suite" {
		t.Fatalf("expected default suite, got %+v", p.TestSuites)
	}
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(got.TestSuites) != 1 {
		t.Fatalf("expected 1 suite after reload, got %d", len(got.TestSuites))
	}
	if len(got.Members) != 1 || got.Members[0] != "qa-1" {
		t.Fatalf("members not persisted: %+v", got.Members)
	}
}

func TestAddStepOrdersPastMax(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	tc := mustCase(t, env, suiteID, "login")

	s1, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "navigate", Selector: "https://example.com"})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	if s1.Order != 1 {
		t.Fatalf("first step order = %d, want 1", s1.Order)
	}
	s2, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "click", Selector: ".login"})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	if s2.Order != 2 {
		t.Fatalf("second step order = %d, want 2", s2.Order)
	}
	// deleting the first step must not let a later append reuse order 2
	if err := env.Engine.DeleteTestStep(env.Ctx, s1.ID); err != nil {
		t.Fatalf("delete step: %v", err)
	}
	s3, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "wait", Selector: ".spinner"})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	if s3.Order != 3 {
		t.Fatalf("step after delete got order %d, want 3", s3.Order)
	}
	// an explicit order is kept as given
	s4, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "hover", Selector: ".menu", Order: 10})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	if s4.Order != 10 {
		t.Fatalf("explicit order = %d, want 10", s4.Order)
	}
	s5, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "click", Selector: ".item"})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	if s5.Order != 11 {
		t.Fatalf("append after explicit order got %d, want 11", s5.Order)
	}
}

func TestReorderStepsRenumbers(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	tc := mustCase(t, env, suiteID, "checkout")

	var ids []string
	for _, action := range []string{"navigate", "click", "assert"} {
		s, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: action, Selector: "x", ExpectedOutcome: "y"})
		if err != nil {
			t.Fatalf("add step: %v", err)
		}
		ids = append(ids, s.ID)
	}
	steps, err := env.Engine.ReorderTestSteps(env.Ctx, tc.ID, []string{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps", len(steps))
	}
	for i, s := range steps {
		if s.Order != i+1 {
			t.Fatalf("step %d has order %d", i, s.Order)
		}
	}
	if steps[0].ID != ids[2] || steps[1].ID != ids[0] || steps[2].ID != ids[1] {
		t.Fatalf("order not applied: %v", []string{steps[0].ID, steps[1].ID, steps[2].ID})
	}

	// wholesale replace requires the full step set
	if _, err := env.Engine.ReorderTestSteps(env.Ctx, tc.ID, ids[:2]); err == nil {
		t.Fatalf("expected error for partial reorder")
	}
	if _, err := env.Engine.ReorderTestSteps(env.Ctx, tc.ID, []string{ids[0], ids[0], ids[1]}); err == nil {
		t.Fatalf("expected error for duplicate step id")
	}
}

func TestUpdateCaseFieldWhitelist(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	tc := mustCase(t, env, suiteID, "search")

	name := "search products"
	status := "ready"
	got, err := env.Engine.UpdateTestCase(env.Ctx, tc.ID, engine.CaseUpdateOptions{Name: &name, Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != name || got.Status != "ready" {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.ID != tc.ID || got.TestSuiteID != tc.TestSuiteID || got.CreatedAt != tc.CreatedAt {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if got.UpdatedAt == tc.UpdatedAt {
		t.Fatalf("updated_at not bumped")
	}
	bad := "yellow"
	if _, err := env.Engine.UpdateTestCase(env.Ctx, tc.ID, engine.CaseUpdateOptions{Status: &bad}); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	a := mustCase(t, env, suiteID, "a")
	b := mustCase(t, env, suiteID, "b")
	c := mustCase(t, env, suiteID, "c")

	if err := env.Engine.AddDependency(env.Ctx, b.ID, a.ID); err != nil {
		t.Fatalf("b->a: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, c.ID, b.ID); err != nil {
		t.Fatalf("c->b: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, a.ID, c.ID); err == nil {
		t.Fatalf("expected cycle a->c to be rejected")
	}
	if err := env.Engine.AddDependency(env.Ctx, a.ID, a.ID); err == nil {
		t.Fatalf("expected self dependency to be rejected")
	}
}

func TestDeleteCaseDropsEdgesBothWays(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	a := mustCase(t, env, suiteID, "base")
	b := mustCase(t, env, suiteID, "dependent", a.ID)

	if err := env.Engine.DeleteTestCase(env.Ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := env.Engine.GetTestCase(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get dependent: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Fatalf("dangling dependency left behind: %v", got.Dependencies)
	}
}

func TestDependencyTreeDiamond(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	d := mustCase(t, env, suiteID, "login")
	b := mustCase(t, env, suiteID, "add product", d.ID)
	c := mustCase(t, env, suiteID, "add coupon", d.ID)
	a := mustCase(t, env, suiteID, "checkout", b.ID, c.ID)

	tree, err := env.Engine.DependencyTree(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if tree == nil || tree.ID != a.ID || len(tree.Children) != 2 {
		t.Fatalf("unexpected root: %+v", tree)
	}
	// the shared dependency shows up under each branch
	for _, child := range tree.Children {
		if len(child.Children) != 1 || child.Children[0].ID != d.ID {
			t.Fatalf("branch %s missing shared dependency", child.Name)
		}
	}
}

func TestSelectionCursor(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	tc := mustCase(t, env, suiteID, "smoke")

	if err := env.Engine.SelectTestCase(env.Ctx, tc.ID); err != nil {
		t.Fatalf("select case: %v", err)
	}
	sel := env.Engine.Selection
	if sel.ProjectID != p.ID || sel.TestSuiteID != suiteID || sel.TestCaseID != tc.ID {
		t.Fatalf("selection not widened to ancestors: %+v", sel)
	}
	if err := env.Engine.SelectProject(env.Ctx, p.ID); err != nil {
		t.Fatalf("select project: %v", err)
	}
	sel = env.Engine.Selection
	if sel.TestSuiteID != "" || sel.TestCaseID != "" {
		t.Fatalf("narrower selection not cleared: %+v", sel)
	}
	if err := env.Engine.SelectTestCase(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSelectionStaysInProject(t *testing.T) {
	env := newTestEnv(t)
	p1 := mustProject(t, env)
	tc1 := mustCase(t, env, p1.TestSuites[0].ID, "smoke")
	p2, err := env.Engine.CreateProject(env.Ctx, "Billing", "billing tests", "owner-2", nil)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tc2 := mustCase(t, env, p2.TestSuites[0].ID, "invoice")

	if err := env.Engine.SelectProject(env.Ctx, p1.ID); err != nil {
		t.Fatalf("select project: %v", err)
	}
	// a suite under another project never reparents the cursor
	if err := env.Engine.SelectTestSuite(env.Ctx, p2.TestSuites[0].ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-project suite selected: %v", err)
	}
	sel := env.Engine.Selection
	if sel.ProjectID != p1.ID || sel.TestSuiteID != "" || sel.TestCaseID != "" {
		t.Fatalf("cursor moved: %+v", sel)
	}

	if err := env.Engine.SelectTestSuite(env.Ctx, p1.TestSuites[0].ID); err != nil {
		t.Fatalf("select suite: %v", err)
	}
	if err := env.Engine.SelectTestCase(env.Ctx, tc2.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-project case selected: %v", err)
	}
	sel = env.Engine.Selection
	if sel.ProjectID != p1.ID || sel.TestSuiteID != p1.TestSuites[0].ID || sel.TestCaseID != "" {
		t.Fatalf("cursor moved: %+v", sel)
	}

	if err := env.Engine.SelectTestCase(env.Ctx, tc1.ID); err != nil {
		t.Fatalf("select in-project case: %v", err)
	}
	if env.Engine.Selection.TestCaseID != tc1.ID {
		t.Fatalf("in-project case not selected: %+v", env.Engine.Selection)
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	mustProject(t, env)
	evts, err := events.After(env.Ctx, env.Engine.DB, 0, 10)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatalf("no events recorded")
	}
	for _, evt := range evts {
		if !strings.HasPrefix(evt.TS, "2024-01-01T") {
			t.Fatalf("event %s ts %s not from the injected clock", evt.Type, evt.TS)
		}
	}
}

func TestEngineNotFoundErrors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GetTestCase(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("case: %v", err)
	}
	if _, err := env.Engine.GetTestSuite(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("suite: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project: %v", err)
	}
	if _, err := env.Engine.GenerateTestCase(env.Ctx, "nope", "anything", nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("generate into missing suite: %v", err)
	}
}
