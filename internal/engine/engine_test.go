package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskgate/internal/config"
	"taskgate/internal/db"
	"taskgate/internal/domain"
	"taskgate/internal/engine"
	"taskgate/internal/engine/auth"
	"taskgate/internal/migrate"
	"taskgate/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "boss"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	env := testEnv{Engine: eng, Ctx: ctx}
	env.seedEmployee(t, "boss", "Boss", "manager")
	env.seedEmployee(t, "dev", "Dev", "employee")
	return env
}

func (env testEnv) seedEmployee(t *testing.T, id, name, role string) {
	t.Helper()
	if _, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{
		ID: id, Name: name, Role: role, ActorID: "boss",
	}); err != nil {
		t.Fatalf("seed employee %s: %v", id, err)
	}
}

func (env testEnv) createItem(t *testing.T, assignee string) domain.WorkItem {
	t.Helper()
	item, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
		ProjectID:  "proj-1",
		EmployeeID: assignee,
		Title:      "Do work",
		CreatedBy:  "boss",
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return item
}

func (env testEnv) transition(itemID, status, actor string, manager bool) (domain.WorkItem, error) {
	return env.Engine.RequestTransition(env.Ctx, engine.TransitionOptions{
		WorkItemID:     itemID,
		NewStatus:      status,
		ActorID:        actor,
		ActorIsManager: manager,
	})
}

func (env testEnv) profile(t *testing.T, employeeID string) domain.ScoreProfile {
	t.Helper()
	p, err := env.Engine.Repo.GetScoreProfile(env.Ctx, employeeID)
	if err != nil {
		t.Fatalf("get profile %s: %v", employeeID, err)
	}
	return p
}

func (env testEnv) forceStatus(t *testing.T, itemID, status string) {
	t.Helper()
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE work_items SET status=? WHERE id=?`, status, itemID); err != nil {
		t.Fatalf("force status: %v", err)
	}
}

func TestTransitionTableRejectsIllegalPairs(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")

	allowed := map[string]map[string]bool{
		"todo":        {"in_progress": true},
		"in_progress": {"review": true},
		"review":      {"done": true, "in_progress": true},
		"rejected":    {"in_progress": true},
		"done":        {},
		"canceled":    {},
	}
	statuses := []string{"todo", "in_progress", "review", "done", "rejected", "canceled"}
	for _, cur := range statuses {
		for _, next := range statuses {
			if cur == next || allowed[cur][next] {
				continue
			}
			env.forceStatus(t, item.ID, cur)
			_, err := env.transition(item.ID, next, "dev", true)
			var ite engine.InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", cur, next, err)
			}
			if ite.From != cur || ite.To != next {
				t.Fatalf("%s -> %s: error names %s -> %s", cur, next, ite.From, ite.To)
			}
		}
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")

	item, err := env.transition(item.ID, "in_progress", "dev", false)
	if err != nil || item.Status != "in_progress" {
		t.Fatalf("to in_progress: %v", err)
	}
	item, err = env.transition(item.ID, "review", "dev", false)
	if err != nil || item.Status != "review" {
		t.Fatalf("to review: %v", err)
	}
	item, err = env.transition(item.ID, "done", "boss", true)
	if err != nil || item.Status != "done" {
		t.Fatalf("to done: %v", err)
	}
	// done is terminal
	_, err = env.transition(item.ID, "in_progress", "dev", false)
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition from done, got %v", err)
	}
}

func TestDoneRequiresManager(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	env.forceStatus(t, item.ID, "review")

	_, err := env.transition(item.ID, "done", "dev", false)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestStartAndReviewRequireAssignee(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")

	// manager who is not the assignee cannot start work
	_, err := env.transition(item.ID, "in_progress", "boss", true)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden on start, got %v", err)
	}

	env.forceStatus(t, item.ID, "in_progress")
	_, err = env.transition(item.ID, "review", "boss", true)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden on review, got %v", err)
	}

	// resume from rejected is also assignee-only
	env.forceStatus(t, item.ID, "rejected")
	_, err = env.transition(item.ID, "in_progress", "boss", true)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden on resume, got %v", err)
	}
}

func TestForbiddenDistinctFromInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	env.forceStatus(t, item.ID, "review")

	// legal pair, wrong role: must be forbidden, not invalid transition
	_, err := env.transition(item.ID, "done", "dev", false)
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		t.Fatalf("forbidden case misreported as invalid transition")
	}
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSkippingReviewIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")

	_, err := env.transition(item.ID, "review", "dev", false)
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if ite.From != "todo" || ite.To != "review" {
		t.Fatalf("error names %s -> %s", ite.From, ite.To)
	}
}

func TestSameTitleSameInstantGetsDistinctIDs(t *testing.T) {
	env := newTestEnv(t)

	// The clock is pinned, so repeated creates share project, title and
	// timestamp; generated ids must still never collide.
	first := env.createItem(t, "dev")
	second := env.createItem(t, "dev")
	if first.ID == second.ID {
		t.Fatalf("duplicate generated id %s", first.ID)
	}
	for _, id := range []string{first.ID, second.ID} {
		if _, err := env.Engine.Repo.GetWorkItem(env.Ctx, id); err != nil {
			t.Fatalf("fetch %s: %v", id, err)
		}
	}
}

func TestUnknownItemNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.transition("missing", "in_progress", "dev", false)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEmptyActorUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	_, err := env.transition(item.ID, "in_progress", "", false)
	var ue auth.UnauthenticatedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestStreakRewardEveryTwoAcceptances(t *testing.T) {
	env := newTestEnv(t)

	// drop below the ceiling so the reward is observable
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
		t.Fatal(err)
	}
	if p := env.profile(t, "dev"); p.Performance != 95 || p.Streak != 0 {
		t.Fatalf("after rejection: performance=%v streak=%d", p.Performance, p.Streak)
	}

	// first acceptance banks the streak, no score change
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", true, "boss"); err != nil {
		t.Fatal(err)
	}
	if p := env.profile(t, "dev"); p.Performance != 95 || p.Streak != 1 {
		t.Fatalf("after first acceptance: performance=%v streak=%d", p.Performance, p.Streak)
	}

	// second acceptance pays out and wraps the streak
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", true, "boss"); err != nil {
		t.Fatal(err)
	}
	if p := env.profile(t, "dev"); p.Performance != 100 || p.Streak != 0 {
		t.Fatalf("after second acceptance: performance=%v streak=%d", p.Performance, p.Streak)
	}
}

func TestAcceptanceViaDoneTransitions(t *testing.T) {
	env := newTestEnv(t)

	// start below the ceiling
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		item := env.createItem(t, "dev")
		if _, err := env.transition(item.ID, "in_progress", "dev", false); err != nil {
			t.Fatal(err)
		}
		if _, err := env.transition(item.ID, "review", "dev", false); err != nil {
			t.Fatal(err)
		}
		if _, err := env.transition(item.ID, "done", "boss", true); err != nil {
			t.Fatal(err)
		}
		p := env.profile(t, "dev")
		switch i {
		case 0:
			if p.Performance != 95 {
				t.Fatalf("first done should not change score, got %v", p.Performance)
			}
		case 1:
			if p.Performance != 100 {
				t.Fatalf("second done should pay reward, got %v", p.Performance)
			}
		}
	}
}

func TestReviewSendBackIsRejectionEquivalent(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	if _, err := env.transition(item.ID, "in_progress", "dev", false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(item.ID, "review", "dev", false); err != nil {
		t.Fatal(err)
	}
	// bank half a streak first so the reset is observable
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", true, "boss"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.transition(item.ID, "in_progress", "dev", false); err != nil {
		t.Fatal(err)
	}
	p := env.profile(t, "dev")
	if p.Performance != 95 {
		t.Fatalf("expected penalty on send-back, got %v", p.Performance)
	}
	if p.Streak != 0 {
		t.Fatalf("expected streak reset, got %d", p.Streak)
	}
}

func TestPerformanceStaysBounded(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
			t.Fatal(err)
		}
		if p := env.profile(t, "dev"); p.Performance < 0 || p.Performance > 100 {
			t.Fatalf("performance out of bounds: %v", p.Performance)
		}
	}
	if p := env.profile(t, "dev"); p.Performance != 0 {
		t.Fatalf("expected floor at 0, got %v", p.Performance)
	}
	for i := 0; i < 60; i++ {
		if err := env.Engine.RecordOutcome(env.Ctx, "dev", true, "boss"); err != nil {
			t.Fatal(err)
		}
		if p := env.profile(t, "dev"); p.Performance < 0 || p.Performance > 100 {
			t.Fatalf("performance out of bounds: %v", p.Performance)
		}
	}
	if p := env.profile(t, "dev"); p.Performance != 100 {
		t.Fatalf("expected ceiling at 100, got %v", p.Performance)
	}
}

func TestOutcomeForMissingProfileIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.RecordOutcome(env.Ctx, "ghost", true, "boss"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := env.Engine.RecordOutcome(env.Ctx, "", false, "boss"); err != nil {
		t.Fatalf("expected no-op for empty id, got %v", err)
	}
	score, err := env.Engine.ScoreOf(env.Ctx, "ghost")
	if err != nil || score != 0 {
		t.Fatalf("expected zero score, got %v %v", score, err)
	}
	ok, err := env.Engine.IsEligibleForAssignment(env.Ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("expected not eligible without profile")
	}
}

func TestCapacityCapTenItems(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		item, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
			ProjectID:  "proj-1",
			EmployeeID: "dev",
			Title:      "item",
			CreatedBy:  "boss",
		})
		if err != nil {
			t.Fatalf("assignment %d: %v", i+1, err)
		}
		if item.Status != "todo" {
			t.Fatalf("expected initial status todo, got %s", item.Status)
		}
	}
	if p := env.profile(t, "dev"); p.Workload != 100 {
		t.Fatalf("expected workload 100 at cap, got %v", p.Workload)
	}
	_, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
		ProjectID:  "proj-1",
		EmployeeID: "dev",
		Title:      "one too many",
		CreatedBy:  "boss",
	})
	var ce engine.CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if ce.Active != 10 || ce.Limit != 10 {
		t.Fatalf("capacity error detail: %+v", ce)
	}
}

func TestPerformanceThresholdDenial(t *testing.T) {
	env := newTestEnv(t)
	// 13 rejections: 100 - 65 = 35, below the 40 threshold
	for i := 0; i < 13; i++ {
		if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
			t.Fatal(err)
		}
	}
	_, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
		ProjectID:  "proj-1",
		EmployeeID: "dev",
		Title:      "denied",
		CreatedBy:  "boss",
	})
	var pe engine.PerformanceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected performance error, got %v", err)
	}
	if pe.Score != 35 || pe.Threshold != 40 {
		t.Fatalf("performance error detail: %+v", pe)
	}
	ok, err := env.Engine.IsEligibleForAssignment(env.Ctx, "dev")
	if err != nil || ok {
		t.Fatalf("expected not eligible at 35")
	}
}

func TestCapacityReportedBeforePerformance(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.createItem(t, "dev")
	}
	for i := 0; i < 13; i++ {
		if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
			t.Fatal(err)
		}
	}
	// both checks fail; capacity wins for deterministic reporting
	_, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
		ProjectID:  "proj-1",
		EmployeeID: "dev",
		Title:      "doubly denied",
		CreatedBy:  "boss",
	})
	var ce engine.CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected capacity error first, got %v", err)
	}
}

func TestManagerIsNotAssignable(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentOptions{
		ProjectID:  "proj-1",
		EmployeeID: "boss",
		Title:      "nope",
		CreatedBy:  "boss",
	})
	var ne engine.NotEligibleError
	if !errors.As(err, &ne) {
		t.Fatalf("expected not-eligible error, got %v", err)
	}
	if ne.Role != "manager" {
		t.Fatalf("expected role named in error, got %q", ne.Role)
	}
}

func TestWorkloadTracksActiveSet(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	if p := env.profile(t, "dev"); p.Workload != 10 {
		t.Fatalf("expected workload 10 after one item, got %v", p.Workload)
	}
	// active -> active transitions leave workload untouched
	if _, err := env.transition(item.ID, "in_progress", "dev", false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.transition(item.ID, "review", "dev", false); err != nil {
		t.Fatal(err)
	}
	if p := env.profile(t, "dev"); p.Workload != 10 {
		t.Fatalf("expected workload 10 while active, got %v", p.Workload)
	}
	// done leaves the active set
	if _, err := env.transition(item.ID, "done", "boss", true); err != nil {
		t.Fatal(err)
	}
	if p := env.profile(t, "dev"); p.Workload != 0 {
		t.Fatalf("expected workload 0 after done, got %v", p.Workload)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.createItem(t, "dev")
	if err := env.Engine.Recompute(env.Ctx, "dev"); err != nil {
		t.Fatal(err)
	}
	first := env.profile(t, "dev").Workload
	if err := env.Engine.Recompute(env.Ctx, "dev"); err != nil {
		t.Fatal(err)
	}
	if second := env.profile(t, "dev").Workload; second != first {
		t.Fatalf("recompute not idempotent: %v then %v", first, second)
	}
	n, err := env.Engine.ActiveCount(env.Ctx, "dev")
	if err != nil || n != 1 {
		t.Fatalf("active count: %d %v", n, err)
	}
	ok, err := env.Engine.CanAssign(env.Ctx, "dev")
	if err != nil || !ok {
		t.Fatalf("expected can assign below cap")
	}
}

func TestRecomputeMissingProfileIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Recompute(env.Ctx, "ghost"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestCommentsOverwrittenOnTransition(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	env.forceStatus(t, item.ID, "review")

	reason := "needs tests"
	item, err := env.Engine.RequestTransition(env.Ctx, engine.TransitionOptions{
		WorkItemID: item.ID,
		NewStatus:  "in_progress",
		ActorID:    "dev",
		Comments:   &reason,
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.Comments != "needs tests" {
		t.Fatalf("expected comments set, got %q", item.Comments)
	}

	env.forceStatus(t, item.ID, "review")
	newReason := "still needs tests"
	item, err = env.Engine.RequestTransition(env.Ctx, engine.TransitionOptions{
		WorkItemID: item.ID,
		NewStatus:  "in_progress",
		ActorID:    "dev",
		Comments:   &newReason,
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.Comments != "still needs tests" {
		t.Fatalf("expected comments overwritten, got %q", item.Comments)
	}
}

func TestStaleProfileWriteConflicts(t *testing.T) {
	env := newTestEnv(t)
	stale := env.profile(t, "dev")

	// another writer commits in between
	if err := env.Engine.RecordOutcome(env.Ctx, "dev", false, "boss"); err != nil {
		t.Fatal(err)
	}

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	stale.Performance = 50
	err = env.Engine.Repo.UpdateScoreProfileTx(env.Ctx, tx, stale)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTransitionEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	item := env.createItem(t, "dev")
	if _, err := env.transition(item.ID, "in_progress", "dev", false); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "work_item.transitioned", "", item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one transition event, got %d", len(evts))
	}
}
