package planner

import (
	"time"

	"github.com/HendryAvila/relay/internal/toolerr"
)

// --- State machine for requests and tasks ---
//
// Every function here operates on a private copy of a Request owned by
// the Store's mutate loop and re-validates the current state before
// changing anything. None of them persist; the Store does that.

// requireOpen rejects mutations on a completed request.
func requireOpen(r *Request) error {
	if r.Status == RequestCompleted {
		return toolerr.New(toolerr.RequestAlreadyCompleted,
			"request %s is already completed", r.ID)
	}
	return nil
}

func findTask(r *Request, taskID string) (int, error) {
	idx := r.taskIndex(taskID)
	if idx < 0 {
		return -1, toolerr.New(toolerr.NotFound, "task %s not found in request %s", taskID, r.ID)
	}
	return idx, nil
}

// markDone moves a pending task to done and stores its result.
func markDone(r *Request, taskID, details string, now time.Time) error {
	if err := requireOpen(r); err != nil {
		return err
	}
	idx, err := findTask(r, taskID)
	if err != nil {
		return err
	}
	t := &r.Tasks[idx]
	if t.Status != TaskPending {
		return toolerr.New(toolerr.InvalidState,
			"task %s is %s; only pending tasks can be marked done", t.ID, t.Status)
	}
	t.Status = TaskDone
	t.CompletedDetails = details
	t.DoneAt = &now
	return nil
}

// approveTask moves a done task to approved.
func approveTask(r *Request, taskID string, now time.Time) error {
	if err := requireOpen(r); err != nil {
		return err
	}
	idx, err := findTask(r, taskID)
	if err != nil {
		return err
	}
	t := &r.Tasks[idx]
	if t.Status != TaskDone {
		return toolerr.New(toolerr.InvalidState,
			"task %s is %s; only done tasks can be approved", t.ID, t.Status)
	}
	t.Status = TaskApproved
	t.ApprovedAt = &now
	return nil
}

// approveRequest completes the request once every task is approved.
func approveRequest(r *Request, now time.Time) error {
	if err := requireOpen(r); err != nil {
		return err
	}
	if pending := unapprovedTaskIDs(r); len(pending) > 0 {
		return toolerr.Pending(r.ID, pending)
	}
	r.Status = RequestCompleted
	r.CompletedAt = &now
	return nil
}

// updateTask edits a pending task's title and/or description.
func updateTask(r *Request, taskID string, upd TaskUpdate) error {
	if upd.Title == nil && upd.Description == nil {
		return toolerr.Invalid("title", "provide a title or a description to update")
	}
	if upd.Title != nil && *upd.Title == "" {
		return toolerr.Invalid("title", "title cannot be empty")
	}
	if err := requireOpen(r); err != nil {
		return err
	}
	idx, err := findTask(r, taskID)
	if err != nil {
		return err
	}
	t := &r.Tasks[idx]
	if t.Status != TaskPending {
		return toolerr.New(toolerr.InvalidState,
			"task %s is %s; only pending tasks can be updated", t.ID, t.Status)
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	return nil
}

// deleteTask removes a pending task without renumbering the rest.
func deleteTask(r *Request, taskID string) error {
	if err := requireOpen(r); err != nil {
		return err
	}
	idx, err := findTask(r, taskID)
	if err != nil {
		return err
	}
	if st := r.Tasks[idx].Status; st != TaskPending {
		return toolerr.New(toolerr.InvalidState,
			"task %s is %s; only pending tasks can be deleted", taskID, st)
	}
	r.Tasks = append(r.Tasks[:idx], r.Tasks[idx+1:]...)
	return nil
}

// nextTask finds the first pending task in sequence order.
func nextTask(r *Request) (NextTask, error) {
	if r.Status == RequestCompleted {
		return NextTask{}, toolerr.New(toolerr.RequestAlreadyCompleted,
			"request %s is already completed", r.ID)
	}
	out := NextTask{RequestID: r.ID, Progress: RenderProgress(r)}
	for i := range r.Tasks {
		if r.Tasks[i].Status == TaskPending {
			t := r.Tasks[i]
			out.Outcome = OutcomeNextTask
			out.Task = &t
			return out, nil
		}
	}
	out.Outcome = OutcomeNoPendingTasks
	for _, t := range r.Tasks {
		if t.Status == TaskDone {
			out.AwaitingApproval = append(out.AwaitingApproval, t.ID)
		}
	}
	out.ReadyForCompletion = len(unapprovedTaskIDs(r)) == 0
	return out, nil
}

func unapprovedTaskIDs(r *Request) []string {
	var ids []string
	for _, t := range r.Tasks {
		if t.Status != TaskApproved {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// refreshFlags recomputes derived fields after a mutation.
func refreshFlags(r *Request, now time.Time) {
	r.AllTasksApprovedForCompletion = len(r.Tasks) > 0 && len(unapprovedTaskIDs(r)) == 0
	r.UpdatedAt = now
}

func validateInputs(field string, tasks []TaskInput) error {
	if len(tasks) == 0 {
		return toolerr.Invalid(field, "at least one task is required")
	}
	for i, t := range tasks {
		if t.Title == "" {
			return toolerr.Invalid(field, "task %d has an empty title", i+1)
		}
	}
	return nil
}
