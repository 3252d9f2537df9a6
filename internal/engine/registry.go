package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/resolve"
)

// registryState is owned by the registry goroutine. Nothing else touches it.
type registryState struct {
	order    []string
	tasks    map[string]*model.Task
	byHandle map[string]string // live real handle -> task ID
	byPair   map[string]string // pair key -> task ID
	retired  map[string]bool
	expanded map[string]bool
}

func newRegistryState() *registryState {
	return &registryState{
		tasks:    make(map[string]*model.Task),
		byHandle: make(map[string]string),
		byPair:   make(map[string]string),
		retired:  make(map[string]bool),
		expanded: make(map[string]bool),
	}
}

func (s *registryState) index(t *model.Task) {
	s.byPair[t.PairKey()] = t.ID
	if !model.IsPlaceholderHandle(t.JobHandle) && !model.IsTerminal(t.Status) {
		s.byHandle[t.JobHandle] = t.ID
	}
}

// retire stops tracking h. Later responses for it are ignored.
func (s *registryState) retire(h string) {
	if model.IsPlaceholderHandle(h) {
		return
	}
	s.retired[h] = true
	delete(s.byHandle, h)
}

// registry is the ordered task table of one session. Every operation runs
// as a closure on a single goroutine, so each one is atomic with respect to
// the others.
type registry struct {
	ops  chan func(*registryState)
	done chan struct{}
}

func newRegistry() *registry {
	return &registry{
		ops:  make(chan func(*registryState)),
		done: make(chan struct{}),
	}
}

// run owns the state until ctx is cancelled.
func (r *registry) run(ctx context.Context) {
	defer close(r.done)
	st := newRegistryState()
	for {
		select {
		case op := <-r.ops:
			op(st)
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the registry goroutine and waits for it. It returns false
// when the registry has stopped.
func (r *registry) do(fn func(*registryState)) bool {
	finished := make(chan struct{})
	select {
	case r.ops <- func(s *registryState) {
		defer close(finished)
		fn(s)
	}:
	case <-r.done:
		return false
	}
	<-finished
	return true
}

// Replace swaps in a new batch wholesale.
func (r *registry) Replace(tasks []model.Task) {
	r.do(func(s *registryState) {
		*s = *newRegistryState()
		for i := range tasks {
			t := tasks[i]
			s.order = append(s.order, t.ID)
			s.tasks[t.ID] = &t
			s.index(&t)
		}
	})
}

// resolution is the result of attaching one dispatched task.
type resolution struct {
	Task model.Task
	// Changed is false when the registry kept its own copy.
	Changed bool
	// Orphan is true when the dispatched job has no live task to attach
	// to and should be stopped.
	Orphan bool
}

// ResolveHandles attaches dispatch results to their placeholder tasks.
// Results for tasks that were cancelled, replaced or retried in the
// meantime are reported as orphans when they carry a real handle.
func (r *registry) ResolveHandles(resolved []model.Task) []resolution {
	var out []resolution
	r.do(func(s *registryState) {
		for _, rt := range resolved {
			cur, ok := s.tasks[rt.ID]
			hasHandle := !model.IsPlaceholderHandle(rt.JobHandle)
			if !ok || model.IsTerminal(cur.Status) || cur.Attempt != rt.Attempt {
				out = append(out, resolution{Task: rt, Orphan: hasHandle})
				continue
			}

			s.retire(cur.JobHandle)
			cur.Backend = rt.Backend
			cur.JobHandle = rt.JobHandle
			if model.IsTerminal(rt.Status) {
				cur.Status = rt.Status
				cur.Error = rt.Error
				cur.ErrorKind = rt.ErrorKind
				cur.EndedAt = rt.EndedAt
			}
			s.index(cur)
			out = append(out, resolution{Task: *cur, Changed: true})
		}
	})
	return out
}

// applied is the effect of one status response.
type applied struct {
	Changed  bool
	Task     model.Task
	Expanded []model.Task
}

// ApplyStatus applies one response for a live handle. Responses for
// unknown, retired or already expanded handles are no-ops.
func (r *registry) ApplyStatus(handle string, st model.RemoteStatus, now time.Time) applied {
	var out applied
	r.do(func(s *registryState) {
		if s.retired[handle] || s.expanded[handle] {
			return
		}
		id, ok := s.byHandle[handle]
		if !ok {
			return
		}
		cur := s.tasks[id]

		o := Transition(*cur, st, now)
		if !o.Changed {
			return
		}
		if o.Groups != nil {
			out = applied{Changed: true, Task: *cur, Expanded: s.expand(cur, o.Groups, now)}
			return
		}

		*cur = o.Task
		if model.IsTerminal(cur.Status) {
			delete(s.byHandle, handle)
		}
		out = applied{Changed: true, Task: *cur}
	})
	return out
}

// expand replaces the umbrella task with one successful task per group, in
// the umbrella's position. Callers hold the registry goroutine.
func (s *registryState) expand(umbrella *model.Task, groups map[string]json.RawMessage, now time.Time) []model.Task {
	s.expanded[umbrella.JobHandle] = true
	delete(s.byHandle, umbrella.JobHandle)
	delete(s.byPair, umbrella.PairKey())
	delete(s.tasks, umbrella.ID)

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	names = resolve.SortGroups(names)

	var ids []string
	var out []model.Task
	for _, g := range names {
		t := *umbrella
		t.ID = model.NewID()
		t.SubjectID = g
		t.SubjectKind = model.SubjectGroup
		t.ParentID = umbrella.ID
		t.Succeed(groups[g], now)
		s.tasks[t.ID] = &t
		s.byPair[t.PairKey()] = t.ID
		ids = append(ids, t.ID)
		out = append(out, t)
	}

	for i, id := range s.order {
		if id == umbrella.ID {
			order := make([]string, 0, len(s.order)-1+len(ids))
			order = append(order, s.order[:i]...)
			order = append(order, ids...)
			order = append(order, s.order[i+1:]...)
			s.order = order
			break
		}
	}
	return out
}

// BeginRetry moves a failed task back to pending under a new placeholder
// handle. The old handle is retired first.
func (r *registry) BeginRetry(id string, now time.Time) (model.Task, error) {
	var out model.Task
	var err error
	ok := r.do(func(s *registryState) {
		cur, found := s.tasks[id]
		if !found {
			err = fmt.Errorf("%s: %w", id, ErrTaskNotFound)
			return
		}
		if !model.CanRetry(cur.Status) {
			err = fmt.Errorf("task %s is %s: %w", id, cur.Status, ErrNotRetryable)
			return
		}

		s.retire(cur.JobHandle)
		cur.JobHandle = model.NewPlaceholderHandle()
		cur.Status = model.StatusPending
		cur.Result = nil
		cur.Error = ""
		cur.ErrorKind = ""
		cur.EndedAt = nil
		cur.StartedAt = now
		cur.Attempt++
		s.index(cur)
		out = *cur
	})
	if !ok {
		return model.Task{}, ErrStopped
	}
	return out, err
}

// cancelled is the effect of a bulk cancel.
type cancelled struct {
	Tasks []model.Task
	// Handles groups the real handles that were still live by backend.
	Handles map[string][]string
}

// CancelOutstanding fails every non-terminal task with "user cancelled".
// Terminal tasks are left untouched.
func (r *registry) CancelOutstanding(now time.Time) cancelled {
	out := cancelled{Handles: make(map[string][]string)}
	r.do(func(s *registryState) {
		for _, id := range s.order {
			t := s.tasks[id]
			if model.IsTerminal(t.Status) {
				continue
			}
			if !model.IsPlaceholderHandle(t.JobHandle) {
				out.Handles[t.Backend] = append(out.Handles[t.Backend], t.JobHandle)
				s.retire(t.JobHandle)
			}
			t.Fail(model.ErrorKindCancelled, model.MsgUserCancelled, now)
			out.Tasks = append(out.Tasks, *t)
		}
	})
	return out
}

// ExpireOlderThan fails submitted tasks that have been outstanding longer
// than timeout with kind terminated. Tasks still waiting for their submit
// are skipped. Handles are returned by backend.
func (r *registry) ExpireOlderThan(timeout time.Duration, now time.Time) cancelled {
	out := cancelled{Handles: make(map[string][]string)}
	r.do(func(s *registryState) {
		for _, id := range s.order {
			t := s.tasks[id]
			if model.IsTerminal(t.Status) || model.IsPlaceholderHandle(t.JobHandle) || now.Sub(t.StartedAt) < timeout {
				continue
			}
			out.Handles[t.Backend] = append(out.Handles[t.Backend], t.JobHandle)
			s.retire(t.JobHandle)
			t.Fail(model.ErrorKindTerminated, fmt.Sprintf("%s after %s", model.MsgTerminated, timeout), now)
			out.Tasks = append(out.Tasks, *t)
		}
	})
	return out
}

// Outstanding returns the non-terminal tasks that carry a real handle.
func (r *registry) Outstanding() []model.Task {
	var out []model.Task
	r.do(func(s *registryState) {
		for _, id := range s.order {
			t := s.tasks[id]
			if _, live := s.byHandle[t.JobHandle]; live && !model.IsTerminal(t.Status) {
				out = append(out, *t)
			}
		}
	})
	return out
}

// Snapshot returns a copy of every task in registry order.
func (r *registry) Snapshot() []model.Task {
	var out []model.Task
	r.do(func(s *registryState) {
		out = make([]model.Task, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, *s.tasks[id])
		}
	})
	return out
}

// Get returns one task by ID.
func (r *registry) Get(id string) (model.Task, error) {
	var out model.Task
	var err error
	ok := r.do(func(s *registryState) {
		t, found := s.tasks[id]
		if !found {
			err = fmt.Errorf("%s: %w", id, ErrTaskNotFound)
			return
		}
		out = *t
	})
	if !ok {
		return model.Task{}, ErrStopped
	}
	return out, err
}

// Counts summarizes the registry. Placeholders count as non-terminal.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"processing"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Terminal returns the number of finished tasks.
func (c Counts) Terminal() int { return c.Succeeded + c.Failed }

// NonTerminal returns the number of unfinished tasks.
func (c Counts) NonTerminal() int { return c.Pending + c.Running }

// Counts returns the current status counts.
func (r *registry) Counts() Counts {
	var c Counts
	r.do(func(s *registryState) {
		for _, id := range s.order {
			c.Total++
			switch s.tasks[id].Status {
			case model.StatusPending:
				c.Pending++
			case model.StatusProcessing:
				c.Running++
			case model.StatusSuccess:
				c.Succeeded++
			case model.StatusFailure:
				c.Failed++
			}
		}
	})
	return c
}
