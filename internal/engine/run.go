package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"testline/internal/domain"
	"testline/internal/events"
)

// RunOptions configure a simulated run. Zero values fall back to the
// workspace config (run.browser, run.step_delay_ms, run.fail_fast).
type RunOptions struct {
	Browser   string
	StepDelay time.Duration
	// FailFast stops the walk at the first failing step instead of
	// recording every failure.
	FailFast bool
	// OnStep is called before each step; interactive clients use it
	// to drive progress output.
	OnStep func(step domain.TestStep, total int)
}

// RunTestCase walks the case's steps in order and records a report. No
// browser is driven: a step passes unless its required fields are
// missing, which is where authored cases actually break. The case status
// is updated to the run outcome.
func (e *Engine) RunTestCase(ctx context.Context, caseID string, opts RunOptions) (domain.RunReport, error) {
	tc, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.RunReport{}, err
	}
	if len(tc.Steps) == 0 {
		return domain.RunReport{}, errors.New("case has no steps")
	}
	browser := opts.Browser
	stepDelay := opts.StepDelay
	failFast := opts.FailFast
	if e.Config != nil {
		if browser == "" {
			browser = e.Config.Run.Browser
		}
		if stepDelay == 0 {
			stepDelay = time.Duration(e.Config.Run.StepDelayMS) * time.Millisecond
		}
		failFast = failFast || e.Config.Run.FailFast
	}
	if browser == "" {
		browser = "chrome"
	}

	started := e.now()
	// the case reads as running while the walk is in flight
	if _, err := e.DB.ExecContext(ctx, `UPDATE cases SET status=?,updated_at=? WHERE id=?`, "running", e.timestamp(), tc.ID); err != nil {
		return domain.RunReport{}, err
	}
	finalized := false
	defer func() {
		if finalized {
			return
		}
		// an aborted run must not leave the case stuck at running
		_, _ = e.DB.ExecContext(context.Background(), `UPDATE cases SET status=?,updated_at=? WHERE id=?`, tc.Status, e.timestamp(), tc.ID)
	}()

	rep := domain.RunReport{
		ID:           e.newID("report", caseID),
		TestCaseID:   tc.ID,
		TestCaseName: tc.Name,
		Status:       "passed",
		Browser:      browser,
		StartedAt:    started.UTC().Format(time.RFC3339),
	}
	log := func(level, message string) {
		rep.Logs = append(rep.Logs, domain.LogEntry{
			TS:      e.timestamp(),
			Level:   level,
			Message: message,
		})
	}
	log("info", "Starting test: "+tc.Name)

	for _, step := range tc.Steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if opts.OnStep != nil {
			opts.OnStep(step, len(tc.Steps))
		}
		if stepDelay > 0 {
			select {
			case <-time.After(stepDelay):
			case <-ctx.Done():
				return rep, ctx.Err()
			}
		}
		if msg, ok := execStep(step); ok {
			log("info", msg)
		} else {
			log("error", msg)
			rep.Status = "failed"
			if failFast {
				break
			}
		}
	}
	if rep.Status == "passed" {
		log("info", "Test completed successfully")
	} else {
		log("error", "Test failed")
	}

	finished := e.now()
	rep.FinishedAt = finished.UTC().Format(time.RFC3339)
	rep.DurationMS = finished.Sub(started).Milliseconds()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return rep, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE cases SET status=?,updated_at=? WHERE id=?`, rep.Status, e.timestamp(), tc.ID); err != nil {
		return rep, err
	}
	projectID, _ := e.caseProjectID(ctx, tc)
	if err := e.Events.Append(ctx, tx, "run.completed", projectID, "report", rep.ID, events.EventPayload{
		"case_id": tc.ID,
		"status":  rep.Status,
		"browser": rep.Browser,
	}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	finalized = true
	return rep, nil
}

// execStep evaluates one step and returns its log line. The bool is
// false when the step fails.
func execStep(step domain.TestStep) (string, bool) {
	switch step.Action {
	case "navigate":
		return "Navigating to " + step.Selector, true
	case "click":
		return "Clicking " + step.Selector, true
	case "fill":
		if step.Value == "" {
			return fmt.Sprintf("Fill step %d has no value for %s", step.Order, step.Selector), false
		}
		return fmt.Sprintf("Filling %s with %s", step.Selector, maskSecret(step)), true
	case "assert":
		if step.ExpectedOutcome == "" {
			return fmt.Sprintf("Assert step %d has no expected outcome for %s", step.Order, step.Selector), false
		}
		return fmt.Sprintf("Assertion passed: %s matches %q", step.Selector, step.ExpectedOutcome), true
	case "wait":
		return "Waiting on " + step.Selector, true
	case "hover":
		return "Hovering over " + step.Selector, true
	default:
		return fmt.Sprintf("Unknown action %s at step %d", step.Action, step.Order), false
	}
}

func maskSecret(step domain.TestStep) string {
	if strings.Contains(step.Selector, "password") {
		return "********"
	}
	return step.Value
}
