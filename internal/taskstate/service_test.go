package taskstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"echodesk/cli/internal/kvstore"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type failingStore struct {
	*kvstore.MemoryStore
	setErr error
	sets   int
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	clock := newStepClock()
	ids := &seqIDs{}
	base := []Option{WithClock(clock.Now), WithIDGenerator(ids.Next)}
	svc, err := NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, store
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestCreateTask_StepsStartProcessingWithDistinctIDs(t *testing.T) {
	svc, _ := newTestService(t)
	task, err := svc.CreateTask(context.Background(), "Clean desktop", []string{"Scan", "Sort", "Archive"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if len(task.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(task.Steps))
	}
	seen := map[string]struct{}{}
	for i, step := range task.Steps {
		if step.Status != StepProcessing {
			t.Fatalf("step %d should be processing, got %s", i, step.Status)
		}
		if _, dup := seen[step.ID]; dup {
			t.Fatalf("duplicate step id %s", step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	if task.Steps[0].Title != "Scan" || task.Steps[2].Title != "Archive" {
		t.Fatalf("step order not preserved: %#v", task.Steps)
	}
	if !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Fatalf("createdAt and updatedAt should match on creation: %v %v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestCreateTask_PersistsVersionedDocument(t *testing.T) {
	svc, store := newTestService(t)
	if _, err := svc.CreateTask(context.Background(), "a", nil); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	state, err := kvstore.GetJSON(context.Background(), store, StateKey, persistedState{})
	if err != nil {
		t.Fatalf("read state failed: %v", err)
	}
	if state.Version != StateVersion || len(state.Tasks) != 1 {
		t.Fatalf("unexpected persisted state: %#v", state)
	}
}

func TestCreateTask_RejectsBlankTitles(t *testing.T) {
	svc, store := newTestService(t)
	if _, err := svc.CreateTask(context.Background(), "   ", []string{"a"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank task title, got %v", err)
	}
	if _, err := svc.CreateTask(context.Background(), "ok", []string{"a", " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank step title, got %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), StateKey); ok {
		t.Fatal("rejected creates must not write the store")
	}
}

func TestCreateTask_EmptyStepListAccepted(t *testing.T) {
	svc, _ := newTestService(t)
	task, err := svc.CreateTask(context.Background(), "Think", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Steps == nil || len(task.Steps) != 0 {
		t.Fatalf("expected empty non-nil steps, got %#v", task.Steps)
	}
	if task.DerivedStatus() != TaskPending {
		t.Fatalf("expected pending, got %s", task.DerivedStatus())
	}
}

func TestListTasks_PaginatesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	const n = 23
	created := make([]string, 0, n)
	for i := 0; i < n; i++ {
		task, err := svc.CreateTask(ctx, fmt.Sprintf("task %d", i), []string{"s"})
		if err != nil {
			t.Fatalf("CreateTask %d failed: %v", i, err)
		}
		created = append(created, task.ID)
	}

	pageSize := 5
	var all []string
	nonEmpty := 0
	for page := 1; page <= 6; page++ {
		got, err := svc.ListTasks(ctx, page, pageSize)
		if err != nil {
			t.Fatalf("ListTasks page %d failed: %v", page, err)
		}
		if got.Total != n {
			t.Fatalf("page %d: expected total %d, got %d", page, n, got.Total)
		}
		if len(got.List) > 0 {
			nonEmpty++
		}
		for _, task := range got.List {
			all = append(all, task.ID)
		}
	}
	if nonEmpty != (n+pageSize-1)/pageSize {
		t.Fatalf("expected %d non-empty pages, got %d", (n+pageSize-1)/pageSize, nonEmpty)
	}
	if len(all) != n {
		t.Fatalf("expected %d tasks across pages, got %d", n, len(all))
	}
	for i := range all {
		if all[i] != created[n-1-i] {
			t.Fatalf("position %d: expected %s, got %s", i, created[n-1-i], all[i])
		}
	}
}

func TestListTasks_DefaultsAndOutOfRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		if _, err := svc.CreateTask(ctx, "t", nil); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}
	got, err := svc.ListTasks(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(got.List) != DefaultPageSize || got.Total != 12 {
		t.Fatalf("expected default page of %d, got len=%d total=%d", DefaultPageSize, len(got.List), got.Total)
	}
	got, err = svc.ListTasks(ctx, 9, 10)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(got.List) != 0 || got.Total != 12 {
		t.Fatalf("out of range page should be empty with total, got len=%d total=%d", len(got.List), got.Total)
	}
}

func TestListTasks_SameInstantLaterFirst(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	first, _ := svc.CreateTask(ctx, "first", nil)
	second, _ := svc.CreateTask(ctx, "second", nil)
	got, err := svc.ListTasks(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if got.List[0].ID != second.ID || got.List[1].ID != first.ID {
		t.Fatalf("unexpected order: %s, %s", got.List[0].Title, got.List[1].Title)
	}
}

func TestGetTask_MissingIsNotAnError(t *testing.T) {
	svc, _ := newTestService(t)
	_, ok, err := svc.GetTask(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("expected ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestMutationsOnMissingIDs_ReturnNotFoundAndLeaveStoreUnchanged(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, "keep", []string{"a"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	before, _, _ := store.Get(ctx, StateKey)

	title := "x"
	if _, err := svc.UpdateTask(ctx, "missing", TaskUpdate{Title: &title}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("UpdateTask: expected ErrTaskNotFound, got %v", err)
	}
	if err := svc.DeleteTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("DeleteTask: expected ErrTaskNotFound, got %v", err)
	}
	if _, err := svc.UpdateStepStatus(ctx, "missing", task.Steps[0].ID, StepCompleted); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("UpdateStepStatus: expected ErrTaskNotFound, got %v", err)
	}
	_, err = svc.UpdateStepStatus(ctx, task.ID, "missing", StepCompleted)
	if !errors.Is(err, ErrStepNotFound) || errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("UpdateStepStatus: expected ErrStepNotFound only, got %v", err)
	}

	after, _, _ := store.Get(ctx, StateKey)
	if string(before) != string(after) {
		t.Fatalf("store changed after failed mutations:\nbefore=%s\nafter=%s", before, after)
	}
}

func TestUpdateTask_MergesStepsByTitle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"A"})
	a := task.Steps[0]
	if _, err := svc.UpdateStepStatus(ctx, task.ID, a.ID, StepCompleted); err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}

	got, err := svc.UpdateTask(ctx, task.ID, TaskUpdate{Steps: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	if got.Steps[0].ID != a.ID || got.Steps[0].Status != StepCompleted || !got.Steps[0].CreatedAt.Equal(a.CreatedAt) {
		t.Fatalf("step A should be preserved, got %#v", got.Steps[0])
	}
	if got.Steps[1].Title != "B" || got.Steps[1].Status != StepProcessing || got.Steps[1].ID == a.ID {
		t.Fatalf("step B should be new and processing, got %#v", got.Steps[1])
	}
}

func TestUpdateTask_DuplicateTitlesMatchByOccurrence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"Check", "Check"})
	first, second := task.Steps[0], task.Steps[1]
	if _, err := svc.UpdateStepStatus(ctx, task.ID, second.ID, StepFailed); err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}

	got, err := svc.UpdateTask(ctx, task.ID, TaskUpdate{Steps: []string{"Check", "Other", "Check", "Check"}})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Steps[0].ID != first.ID || got.Steps[0].Status != StepProcessing {
		t.Fatalf("first Check should reuse first step, got %#v", got.Steps[0])
	}
	if got.Steps[2].ID != second.ID || got.Steps[2].Status != StepFailed {
		t.Fatalf("second Check should reuse second step, got %#v", got.Steps[2])
	}
	if got.Steps[3].ID == first.ID || got.Steps[3].ID == second.ID || got.Steps[3].Status != StepProcessing {
		t.Fatalf("third Check should be new, got %#v", got.Steps[3])
	}
}

func TestUpdateTask_TitleOnlyKeepsStepsAndRefreshesUpdatedAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "old", []string{"a", "b"})
	title := "  new  "
	got, err := svc.UpdateTask(ctx, task.ID, TaskUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Title != "new" {
		t.Fatalf("expected trimmed title, got %q", got.Title)
	}
	if len(got.Steps) != 2 || got.Steps[0].ID != task.Steps[0].ID {
		t.Fatalf("steps should be untouched, got %#v", got.Steps)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("updatedAt should advance: %v -> %v", task.UpdatedAt, got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatal("createdAt must not change")
	}
}

func TestUpdateTask_NoFieldsStillRefreshesUpdatedAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", nil)
	got, err := svc.UpdateTask(ctx, task.ID, TaskUpdate{})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) {
		t.Fatal("updatedAt should be refreshed")
	}
}

func TestUpdatedAt_NeverMovesBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	i := 0
	clock := func() time.Time {
		now := times[min(i, len(times)-1)]
		i++
		return now
	}
	svc, _ := newTestService(t, WithClock(clock))
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"a"})
	got, err := svc.UpdateStepStatus(ctx, task.ID, task.Steps[0].ID, StepCompleted)
	if err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}
	if got.UpdatedAt.Before(task.UpdatedAt) {
		t.Fatalf("updatedAt went backwards: %v -> %v", task.UpdatedAt, got.UpdatedAt)
	}
}

func TestDeleteTask_RemovesRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", nil)
	if err := svc.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, ok, _ := svc.GetTask(ctx, task.ID); ok {
		t.Fatal("task should be gone")
	}
	if err := svc.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestUpdateStepStatus_RejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"a"})
	if _, err := svc.UpdateStepStatus(ctx, task.ID, task.Steps[0].ID, StepStatus("done")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTasksByStatus_AnyMatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mixed, _ := svc.CreateTask(ctx, "mixed", []string{"a", "b"})
	if _, err := svc.UpdateStepStatus(ctx, mixed.ID, mixed.Steps[0].ID, StepFailed); err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}
	fresh, _ := svc.CreateTask(ctx, "fresh", []string{"a"})

	failed := StepFailed
	got, err := svc.TasksByStatus(ctx, &failed)
	if err != nil {
		t.Fatalf("TasksByStatus failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != mixed.ID {
		t.Fatalf("expected only mixed task, got %#v", got)
	}

	processing := StepProcessing
	got, _ = svc.TasksByStatus(ctx, &processing)
	if len(got) != 2 || got[0].ID != fresh.ID {
		t.Fatalf("expected both tasks newest-first, got %#v", got)
	}

	all, _ := svc.TasksByStatus(ctx, nil)
	if len(all) != 2 {
		t.Fatalf("expected all tasks, got %d", len(all))
	}

	bogus := StepStatus("bogus")
	if _, err := svc.TasksByStatus(ctx, &bogus); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCleanDesktopScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, "Clean desktop", []string{"Scan", "Sort"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if len(task.Steps) != 2 || task.Steps[0].Status != StepProcessing || task.Steps[1].Status != StepProcessing {
		t.Fatalf("unexpected initial steps: %#v", task.Steps)
	}
	task, err = svc.UpdateStepStatus(ctx, task.ID, task.Steps[0].ID, StepCompleted)
	if err != nil {
		t.Fatalf("complete Scan failed: %v", err)
	}
	if task.DerivedStatus() != TaskProcessing {
		t.Fatalf("expected processing after Scan, got %s", task.DerivedStatus())
	}
	task, err = svc.UpdateStepStatus(ctx, task.ID, task.Steps[1].ID, StepCompleted)
	if err != nil {
		t.Fatalf("complete Sort failed: %v", err)
	}
	if task.DerivedStatus() != TaskCompleted {
		t.Fatalf("expected completed after Sort, got %s", task.DerivedStatus())
	}
}

func TestStoreWriteFailurePropagates(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{MemoryStore: kvstore.NewMemoryStore(), setErr: boom}
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if _, err := svc.CreateTask(context.Background(), "t", nil); !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestLoad_LegacyUnversionedAndFutureVersions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	legacy := `{"tasks":[{"id":"old","title":"legacy","steps":[{"id":"s","title":"x","status":"completed"}]}]}`
	if err := store.Set(ctx, StateKey, []byte(legacy)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	task, ok, err := svc.GetTask(ctx, "old")
	if err != nil || !ok || task.Title != "legacy" {
		t.Fatalf("legacy document should load, got ok=%v err=%v task=%#v", ok, err, task)
	}

	if err := store.Set(ctx, StateKey, []byte(`{"version":99,"tasks":[]}`)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := svc.ListTasks(ctx, 1, 10); !errors.Is(err, ErrUnsupportedStateVersion) {
		t.Fatalf("expected ErrUnsupportedStateVersion, got %v", err)
	}
}

func TestEventSink_ReceivesMutations(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	svc, _ := newTestService(t, WithEventSink(func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}))
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"a"})
	_, _ = svc.UpdateStepStatus(ctx, task.ID, task.Steps[0].ID, StepCompleted)
	_ = svc.DeleteTask(ctx, "missing")
	_ = svc.DeleteTask(ctx, task.ID)

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventTaskCreated, EventTaskUpdated, EventTaskDeleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %#v", len(want), events)
	}
	for i, evt := range events {
		if evt.Type != want[i] || evt.TaskID != task.ID {
			t.Fatalf("event %d: unexpected %#v", i, evt)
		}
	}
	if events[2].Task != nil {
		t.Fatal("delete event should not carry a task")
	}
}

func TestConcurrentStepUpdates_NoLostWrites(t *testing.T) {
	svc, err := NewService(kvstore.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	ctx := context.Background()
	titles := make([]string, 20)
	for i := range titles {
		titles[i] = fmt.Sprintf("step %d", i)
	}
	task, err := svc.CreateTask(ctx, "parallel", titles)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, step := range task.Steps {
		wg.Add(1)
		go func(stepID string) {
			defer wg.Done()
			if _, err := svc.UpdateStepStatus(ctx, task.ID, stepID, StepCompleted); err != nil {
				t.Errorf("UpdateStepStatus failed: %v", err)
			}
		}(step.ID)
	}
	wg.Wait()

	got, _, err := svc.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.DerivedStatus() != TaskCompleted {
		t.Fatalf("expected every step completed, got %#v", got.Steps)
	}
}

func TestReturnedTasksDoNotAliasStoreState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "t", []string{"a"})
	task.Steps[0].Status = StepFailed
	got, _, _ := svc.GetTask(ctx, task.ID)
	if got.Steps[0].Status != StepProcessing {
		t.Fatal("mutating a returned task must not leak into the service")
	}
}
