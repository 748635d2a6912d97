package engine_test

import (
	"context"
	"errors"
	"testing"

	"testline/internal/domain"
	"testline/internal/engine"
)

func TestRunPassesCompleteCase(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	tc := mustCase(t, env, suiteID, "login flow")
	for _, s := range []domain.TestStep{
		{Action: "navigate", Selector: "https://example.com"},
		{Action: "fill", Selector: "#username", Value: "testuser"},
		{Action: "fill", Selector: "#password", Value: "secret"},
		{Action: "click", Selector: "button[type=submit]"},
		{Action: "assert", Selector: ".welcome", ExpectedOutcome: "Welcome"},
	} {
		if _, err := env.Engine.AddTestStep(env.Ctx, tc.ID, s); err != nil {
			t.Fatalf("add step: %v", err)
		}
	}

	var seen int
	rep, err := env.Engine.RunTestCase(env.Ctx, tc.ID, engine.RunOptions{
		Browser: "firefox",
		OnStep:  func(domain.TestStep, int) { seen++ },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != "passed" {
		t.Fatalf("status = %s, logs: %+v", rep.Status, rep.Logs)
	}
	if rep.Browser != "firefox" {
		t.Fatalf("browser = %s", rep.Browser)
	}
	if seen != 5 {
		t.Fatalf("OnStep called %d times", seen)
	}
	// password values never land in logs
	for _, l := range rep.Logs {
		if l.Message == "Filling #password with secret" {
			t.Fatalf("secret leaked into log")
		}
	}

	got, err := env.Engine.GetTestCase(env.Ctx, tc.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if got.Status != "passed" {
		t.Fatalf("case status = %s", got.Status)
	}

	stored, err := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if len(stored.Logs) != len(rep.Logs) {
		t.Fatalf("stored %d logs, ran %d", len(stored.Logs), len(rep.Logs))
	}
}

func TestRunFailsOnIncompleteSteps(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID

	fill := mustCase(t, env, suiteID, "fill without value")
	if _, err := env.Engine.AddTestStep(env.Ctx, fill.ID, domain.TestStep{Action: "fill", Selector: "#q"}); err != nil {
		t.Fatalf("add step: %v", err)
	}
	rep, err := env.Engine.RunTestCase(env.Ctx, fill.ID, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != "failed" {
		t.Fatalf("fill-without-value passed")
	}

	asrt := mustCase(t, env, suiteID, "assert without expectation")
	if _, err := env.Engine.AddTestStep(env.Ctx, asrt.ID, domain.TestStep{Action: "assert", Selector: ".result"}); err != nil {
		t.Fatalf("add step: %v", err)
	}
	rep, err = env.Engine.RunTestCase(env.Ctx, asrt.ID, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != "failed" {
		t.Fatalf("assert-without-expectation passed")
	}
	got, _ := env.Engine.GetTestCase(env.Ctx, asrt.ID)
	if got.Status != "failed" {
		t.Fatalf("case status = %s", got.Status)
	}
}

func TestRunCollectsAllFailuresUnlessFailFast(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	tc := mustCase(t, env, p.TestSuites[0].ID, "two broken steps")
	for _, s := range []domain.TestStep{
		{Action: "fill", Selector: "#a"},
		{Action: "assert", Selector: ".b"},
		{Action: "click", Selector: ".c"},
	} {
		if _, err := env.Engine.AddTestStep(env.Ctx, tc.ID, s); err != nil {
			t.Fatalf("add step: %v", err)
		}
	}
	errorLogs := func(rep domain.RunReport) int {
		var n int
		for _, l := range rep.Logs {
			if l.Level == "error" {
				n++
			}
		}
		return n
	}

	rep, err := env.Engine.RunTestCase(env.Ctx, tc.ID, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != "failed" {
		t.Fatalf("status = %s", rep.Status)
	}
	// both broken steps plus the closing failure line
	if n := errorLogs(rep); n != 3 {
		t.Fatalf("default run logged %d errors, want 3: %+v", n, rep.Logs)
	}

	env.Engine.Config.Run.FailFast = true
	rep, err = env.Engine.RunTestCase(env.Ctx, tc.ID, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := errorLogs(rep); n != 2 {
		t.Fatalf("fail-fast run logged %d errors, want 2: %+v", n, rep.Logs)
	}
}

func TestRunAbortRestoresCaseStatus(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	tc := mustCase(t, env, p.TestSuites[0].ID, "aborted run")
	if _, err := env.Engine.AddTestStep(env.Ctx, tc.ID, domain.TestStep{Action: "navigate", Selector: "https://example.com"}); err != nil {
		t.Fatalf("add step: %v", err)
	}
	env.Engine.Config.Run.StepDelayMS = 50

	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	_, err := env.Engine.RunTestCase(ctx, tc.ID, engine.RunOptions{
		OnStep: func(domain.TestStep, int) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, err := env.Engine.GetTestCase(env.Ctx, tc.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if got.Status != "draft" {
		t.Fatalf("aborted run left case at %s", got.Status)
	}
	reports, err := env.Engine.Repo.ListReports(env.Ctx, tc.ID, 10)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("aborted run persisted %d reports", len(reports))
	}
}

func TestRunRejectsEmptyCase(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	tc := mustCase(t, env, p.TestSuites[0].ID, "empty")
	if _, err := env.Engine.RunTestCase(env.Ctx, tc.ID, engine.RunOptions{}); err == nil {
		t.Fatalf("expected error for case with no steps")
	}
}
