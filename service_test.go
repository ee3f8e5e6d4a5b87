package oru

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "  write report  "})
	require.NoError(t, err)
	require.Equal(t, "write report", task.Title)
	require.Equal(t, StatusTodo, task.Status)
	require.NotEmpty(t, task.ID)

	fetched, err := svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, task, fetched)
}

func TestServiceCreateRejectsEmptyTitle(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateInput{Title: "   "})
	require.Error(t, err)
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
}

func TestServiceCreateWithFullPayload(t *testing.T) {
	svc, _ := newTestService(t)
	due := "2026-08-01T09:00:00"
	task, err := svc.Create(context.Background(), CreateInput{
		Title:    "ship release",
		Status:   StatusInProgress,
		Priority: PriorityHigh,
		Labels:   []string{"release", "release", " ops "},
		Notes:    []string{"kickoff note"},
		Metadata: map[string]string{"source": "cli"},
		DueAt:    &due,
	})
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, task.Status)
	require.Equal(t, PriorityHigh, task.Priority)
	require.Equal(t, []string{"release", "ops"}, task.Labels)
	require.Equal(t, []string{"kickoff note"}, task.Notes)
	require.Equal(t, "cli", task.Metadata["source"])
	require.Equal(t, due, *task.DueAt)
}

func TestServiceGetUnknownIDReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "does-not-exist")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceUpdateChangesOnlyGivenFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "draft"})
	require.NoError(t, err)

	newTitle := "final draft"
	newStatus := StatusDone
	updated, err := svc.Update(ctx, task.ID, Partial{Title: &newTitle, Status: &newStatus})
	require.NoError(t, err)
	require.Equal(t, "final draft", updated.Title)
	require.Equal(t, StatusDone, updated.Status)
	require.Equal(t, PriorityMedium, updated.Priority) // untouched, so still the create-time default
}

func TestServiceUpdateUnknownIDReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	title := "x"
	_, err := svc.Update(context.Background(), "nope", Partial{Title: &title})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceUpdateClearsDueAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	due := "2026-08-01T09:00:00"
	task, err := svc.Create(ctx, CreateInput{Title: "with due date", DueAt: &due})
	require.NoError(t, err)
	require.NotNil(t, task.DueAt)

	updated, err := svc.Update(ctx, task.ID, Partial{DueAtSet: true, DueAt: nil})
	require.NoError(t, err)
	require.Nil(t, updated.DueAt)
}

func TestServiceUpdateNoFieldsReturnsCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "untouched"})
	require.NoError(t, err)

	same, err := svc.Update(ctx, task.ID, Partial{})
	require.NoError(t, err)
	require.Equal(t, task, same)
}

func TestServiceDeleteTombstonesAndHidesFromList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "throwaway"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, task.ID))

	list, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	for _, listed := range list {
		require.NotEqual(t, task.ID, listed.ID, "deleted task should not appear in default list")
	}

	withDeleted, err := svc.List(ctx, Filter{IncludeDeleted: true})
	require.NoError(t, err)
	found := false
	for _, tk := range withDeleted {
		if tk.ID == task.ID {
			found = true
			require.NotNil(t, tk.DeletedAt)
		}
	}
	require.True(t, found)
}

func TestServiceDeleteUnknownIDReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Delete(context.Background(), "nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestServiceAddNoteAccumulates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "with notes"})
	require.NoError(t, err)

	task, err = svc.AddNote(ctx, task.ID, "first")
	require.NoError(t, err)
	task, err = svc.AddNote(ctx, task.ID, "second")
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, task.Notes)
}

func TestServiceAddNoteRejectsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "x"})
	require.NoError(t, err)
	_, err = svc.AddNote(ctx, task.ID, "   ")
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
}

func TestServiceListLabels(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Title: "a", Labels: []string{"work", "urgent-ish"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "b", Labels: []string{"work", "home"}})
	require.NoError(t, err)

	labels, err := svc.ListLabels(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"work", "urgent-ish", "home"}, labels)
}

func TestServiceGetContextCountsAndBuckets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Title: "todo task"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "in progress task", Status: StatusInProgress})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "done task", Status: StatusDone})
	require.NoError(t, err)

	sc, err := svc.GetContext(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sc.CountsByStatus[StatusTodo])
	require.Equal(t, 1, sc.CountsByStatus[StatusInProgress])
	require.Equal(t, 1, sc.CountsByStatus[StatusDone])
	require.Len(t, sc.InProgress, 1)
}
