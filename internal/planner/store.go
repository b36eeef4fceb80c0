package planner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/toolerr"
)

// Store holds every Request in memory and writes each change through
// its Persister.
//
// Mutations on one Request are serialized by that Request's own lock;
// different Requests never contend beyond the brief map lookup. Each
// mutation works on a clone, so readers only ever see a Request before
// or after a transition, never during one.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*entry
	order    []string

	persist Persister
	logger  *zap.Logger

	reqSeq  atomic.Int64
	taskSeq atomic.Int64
}

type entry struct {
	mu      sync.RWMutex
	req     *Request
	deleted bool
}

// NewStore creates a Store and loads any requests the Persister already
// holds. A nil Persister keeps everything in memory.
func NewStore(p Persister, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		requests: make(map[string]*entry),
		persist:  p,
		logger:   logger,
	}
	if p == nil {
		return s, nil
	}

	loaded, err := p.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading requests: %w", err)
	}
	sort.Slice(loaded, func(i, j int) bool {
		return idNumber(loaded[i].ID) < idNumber(loaded[j].ID)
	})
	for _, r := range loaded {
		s.requests[r.ID] = &entry{req: r}
		s.order = append(s.order, r.ID)
		bumpTo(&s.reqSeq, idNumber(r.ID))
		for _, t := range r.Tasks {
			bumpTo(&s.taskSeq, idNumber(t.ID))
		}
	}
	if len(loaded) > 0 {
		logger.Info("loaded requests", zap.Int("count", len(loaded)))
	}
	return s, nil
}

// --- Mutations ---

// PlanRequest creates an open Request with its initial tasks pending,
// in the given order. splitDetails defaults to the description.
func (s *Store) PlanRequest(description, splitDetails string, tasks []TaskInput) (*Request, error) {
	if strings.TrimSpace(description) == "" {
		return nil, toolerr.Invalid("originalRequest", "request description is required")
	}
	if err := validateInputs("tasks", tasks); err != nil {
		return nil, err
	}
	if splitDetails == "" {
		splitDetails = description
	}

	now := timeNow().UTC()
	r := &Request{
		ID:              fmt.Sprintf("req-%d", s.reqSeq.Add(1)),
		OriginalRequest: description,
		SplitDetails:    splitDetails,
		Status:          RequestOpen,
		CreatedAt:       now,
	}
	r.Tasks = s.newTasks(tasks, now)
	refreshFlags(r, now)

	if s.persist != nil {
		if err := s.persist.Save(r); err != nil {
			return nil, fmt.Errorf("persisting request %s: %w", r.ID, err)
		}
	}

	s.mu.Lock()
	s.requests[r.ID] = &entry{req: r}
	s.order = append(s.order, r.ID)
	s.mu.Unlock()

	s.logger.Debug("request planned", zap.String("request", r.ID), zap.Int("tasks", len(r.Tasks)))
	return r.clone(), nil
}

// MarkTaskDone records a task's result and moves it from pending to done.
func (s *Store) MarkTaskDone(requestID, taskID, completedDetails string) (*Request, error) {
	return s.mutate(requestID, func(r *Request, now time.Time) error {
		return markDone(r, taskID, completedDetails, now)
	})
}

// ApproveTaskCompletion moves a done task to approved. It is never
// implied by MarkTaskDone.
func (s *Store) ApproveTaskCompletion(requestID, taskID string) (*Request, error) {
	return s.mutate(requestID, func(r *Request, now time.Time) error {
		return approveTask(r, taskID, now)
	})
}

// ApproveRequestCompletion completes the request when every task is approved.
func (s *Store) ApproveRequestCompletion(requestID string) (*Request, error) {
	return s.mutate(requestID, approveRequest)
}

// AddTasksToRequest appends pending tasks and returns their ids.
func (s *Store) AddTasksToRequest(requestID string, tasks []TaskInput) ([]string, *Request, error) {
	if err := validateInputs("tasks", tasks); err != nil {
		return nil, nil, err
	}
	var ids []string
	r, err := s.mutate(requestID, func(r *Request, now time.Time) error {
		if err := requireOpen(r); err != nil {
			return err
		}
		added := s.newTasks(tasks, now)
		for _, t := range added {
			ids = append(ids, t.ID)
		}
		r.Tasks = append(r.Tasks, added...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ids, r, nil
}

// UpdateTask edits a pending task.
func (s *Store) UpdateTask(requestID, taskID string, upd TaskUpdate) (*Request, error) {
	return s.mutate(requestID, func(r *Request, _ time.Time) error {
		return updateTask(r, taskID, upd)
	})
}

// DeleteTask removes a pending task. Remaining ids are untouched.
func (s *Store) DeleteTask(requestID, taskID string) (*Request, error) {
	return s.mutate(requestID, func(r *Request, _ time.Time) error {
		return deleteTask(r, taskID)
	})
}

// DeleteRequest removes a request together with all of its tasks.
func (s *Store) DeleteRequest(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.requests[requestID]
	if !ok {
		return notFound(requestID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Delete(requestID); err != nil {
			return fmt.Errorf("deleting request %s: %w", requestID, err)
		}
	}
	e.deleted = true
	delete(s.requests, requestID)
	for i, id := range s.order {
		if id == requestID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// --- Reads ---

// GetNextTask returns the first pending task, or an OutcomeNoPendingTasks
// result when none remain.
func (s *Store) GetNextTask(requestID string) (NextTask, error) {
	var out NextTask
	err := s.read(requestID, func(r *Request) error {
		var err error
		out, err = nextTask(r)
		return err
	})
	return out, err
}

// Get returns a snapshot of one request.
func (s *Store) Get(requestID string) (*Request, error) {
	var out *Request
	err := s.read(requestID, func(r *Request) error {
		out = r.clone()
		return nil
	})
	return out, err
}

// ListRequests summarizes every request in creation order.
func (s *Store) ListRequests() []RequestSummary {
	entries := s.snapshotEntries()
	out := make([]RequestSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.deleted {
			out = append(out, e.req.summary())
		}
		e.mu.RUnlock()
	}
	return out
}

// OpenTaskDetails returns one task with its request context. When
// requestID is empty every request is searched.
func (s *Store) OpenTaskDetails(requestID, taskID string) (TaskDetail, error) {
	if taskID == "" {
		return TaskDetail{}, toolerr.Invalid("taskId", "taskId is required")
	}
	if requestID != "" {
		var d TaskDetail
		err := s.read(requestID, func(r *Request) error {
			var err error
			d, err = detailOf(r, taskID)
			return err
		})
		return d, err
	}

	for _, e := range s.snapshotEntries() {
		e.mu.RLock()
		if !e.deleted && e.req.taskIndex(taskID) >= 0 {
			d, err := detailOf(e.req, taskID)
			e.mu.RUnlock()
			return d, err
		}
		e.mu.RUnlock()
	}
	return TaskDetail{}, toolerr.New(toolerr.NotFound, "task %s not found", taskID)
}

// --- Internals ---

func (s *Store) lookup(requestID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.requests[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(requestID)
	}
	return e, nil
}

// mutate applies fn to a clone of the request under the request's write
// lock, persists the clone and only then makes it visible.
func (s *Store) mutate(requestID string, fn func(r *Request, now time.Time) error) (*Request, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, notFound(requestID)
	}

	draft := e.req.clone()
	now := timeNow().UTC()
	if err := fn(draft, now); err != nil {
		return nil, err
	}
	refreshFlags(draft, now)

	if s.persist != nil {
		if err := s.persist.Save(draft); err != nil {
			return nil, fmt.Errorf("persisting request %s: %w", requestID, err)
		}
	}
	e.req = draft
	return draft.clone(), nil
}

func (s *Store) read(requestID string, fn func(r *Request) error) error {
	e, err := s.lookup(requestID)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deleted {
		return notFound(requestID)
	}
	return fn(e.req)
}

func (s *Store) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.requests[id])
	}
	return out
}

func (s *Store) newTasks(in []TaskInput, now time.Time) []Task {
	out := make([]Task, 0, len(in))
	for _, t := range in {
		out = append(out, Task{
			ID:          fmt.Sprintf("task-%d", s.taskSeq.Add(1)),
			Title:       t.Title,
			Description: t.Description,
			Status:      TaskPending,
			CreatedAt:   now,
		})
	}
	return out
}

func detailOf(r *Request, taskID string) (TaskDetail, error) {
	idx, err := findTask(r, taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	return TaskDetail{
		RequestID:       r.ID,
		OriginalRequest: r.OriginalRequest,
		RequestStatus:   r.Status,
		Task:            r.clone().Tasks[idx],
		Position:        idx + 1,
		TotalTasks:      len(r.Tasks),
	}, nil
}

func notFound(requestID string) error {
	return toolerr.New(toolerr.NotFound, "request %s not found", requestID)
}

// idNumber extracts N from "req-N" or "task-N"; malformed ids yield 0.
func idNumber(id string) int64 {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func bumpTo(seq *atomic.Int64, n int64) {
	for {
		cur := seq.Load()
		if n <= cur || seq.CompareAndSwap(cur, n) {
			return
		}
	}
}
