// Package planner implements the request/task store behind the planning
// tools.
//
// A Request is an ordered list of Tasks. Each Task moves through
// pending → done → approved, and the Request itself only completes after
// a second, explicit approval once every Task is approved.
//
// Layout follows the rest of the codebase:
// - SRP: types, state machine, store, persistence and rendering in separate files
// - DIP: persistence is behind the Persister interface
package planner

import "time"

// --- Task status enum ---

// TaskStatus is a Task's position in its lifecycle.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskDone     TaskStatus = "done"
	TaskApproved TaskStatus = "approved"
)

// --- Request status enum ---

// RequestStatus is a Request's overall status.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestCompleted RequestStatus = "completed"
)

// --- Records ---

// Task is the smallest unit of tracked work.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           TaskStatus `json:"status"`
	CompletedDetails string     `json:"completedDetails,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	DoneAt           *time.Time `json:"doneAt,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
}

// Request groups an ordered sequence of Tasks.
type Request struct {
	ID                            string        `json:"requestId"`
	OriginalRequest               string        `json:"originalRequest"`
	SplitDetails                  string        `json:"splitDetails"`
	Tasks                         []Task        `json:"tasks"`
	Status                        RequestStatus `json:"status"`
	AllTasksApprovedForCompletion bool          `json:"allTasksApprovedForCompletion"`
	CreatedAt                     time.Time     `json:"createdAt"`
	UpdatedAt                     time.Time     `json:"updatedAt"`
	CompletedAt                   *time.Time    `json:"completedAt,omitempty"`
}

// TaskInput describes a task to create.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TaskUpdate holds the optional fields of an update. Nil means unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
}

// --- Projections ---

// RequestSummary is the read-only row returned by ListRequests.
type RequestSummary struct {
	ID              string        `json:"requestId"`
	OriginalRequest string        `json:"originalRequest"`
	Status          RequestStatus `json:"status"`
	TotalTasks      int           `json:"totalTasks"`
	DoneTasks       int           `json:"doneTasks"`
	ApprovedTasks   int           `json:"approvedTasks"`
}

// TaskDetail is the read-only view returned by OpenTaskDetails.
type TaskDetail struct {
	RequestID       string        `json:"requestId"`
	OriginalRequest string        `json:"originalRequest"`
	RequestStatus   RequestStatus `json:"requestStatus"`
	Task            Task          `json:"task"`
	Position        int           `json:"position"`
	TotalTasks      int           `json:"totalTasks"`
}

// NextTaskOutcome tells a caller what GetNextTask found.
type NextTaskOutcome string

const (
	OutcomeNextTask       NextTaskOutcome = "next_task"
	OutcomeNoPendingTasks NextTaskOutcome = "no_pending_tasks"
)

// NextTask is the result of GetNextTask. Task is nil when the outcome is
// OutcomeNoPendingTasks; AwaitingApproval then lists tasks that are done
// but not yet approved.
type NextTask struct {
	RequestID          string          `json:"requestId"`
	Outcome            NextTaskOutcome `json:"status"`
	Task               *Task           `json:"task,omitempty"`
	AwaitingApproval   []string        `json:"awaitingApproval,omitempty"`
	ReadyForCompletion bool            `json:"readyForCompletion"`
	Progress           string          `json:"progress"`
}

// clone returns a deep copy so callers never share Task slices with the store.
func (r *Request) clone() *Request {
	cp := *r
	cp.Tasks = make([]Task, len(r.Tasks))
	copy(cp.Tasks, r.Tasks)
	for i := range cp.Tasks {
		cp.Tasks[i].DoneAt = copyTime(r.Tasks[i].DoneAt)
		cp.Tasks[i].ApprovedAt = copyTime(r.Tasks[i].ApprovedAt)
	}
	cp.CompletedAt = copyTime(r.CompletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// summary builds the list row for a request.
func (r *Request) summary() RequestSummary {
	s := RequestSummary{
		ID:              r.ID,
		OriginalRequest: r.OriginalRequest,
		Status:          r.Status,
		TotalTasks:      len(r.Tasks),
	}
	for _, t := range r.Tasks {
		switch t.Status {
		case TaskDone:
			s.DoneTasks++
		case TaskApproved:
			s.DoneTasks++
			s.ApprovedTasks++
		}
	}
	return s
}

func (r *Request) taskIndex(taskID string) int {
	for i := range r.Tasks {
		if r.Tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}
