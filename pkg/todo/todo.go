// Package todo holds the per-run task list the model maintains through the
// TodoWrite tool.
package todo

import (
	"fmt"
	"strings"
	"sync"

	"github.com/harun/minicode/pkg/errdefs"
)

// MaxItems bounds the length of a list
const MaxItems = 20

// Status represents the state of a todo item
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Item is one entry of the list
type Item struct {
	Content    string `json:"content"`
	Status     Status `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// List is a validated todo list. Updates replace the whole list.
type List struct {
	mu    sync.Mutex
	items []Item
}

// NewList creates an empty list
func NewList() *List {
	return &List{}
}

// Update validates items and replaces the list. On error the previous
// state is left untouched.
func (l *List) Update(items []Item) (string, error) {
	if err := Validate(items); err != nil {
		return "", err
	}

	next := make([]Item, len(items))
	copy(next, items)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = next
	return render(next), nil
}

// Validate checks the list invariants
func Validate(items []Item) error {
	if len(items) > MaxItems {
		return errdefs.Validationf("max %d todos allowed, got %d", MaxItems, len(items))
	}

	inProgress := 0
	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			return errdefs.Validationf("item %d: content required", i)
		}
		if strings.TrimSpace(item.ActiveForm) == "" {
			return errdefs.Validationf("item %d: activeForm required", i)
		}
		if !item.Status.valid() {
			return errdefs.Validationf("item %d: invalid status %q (must be pending, in_progress or completed)", i, item.Status)
		}
		if item.Status == StatusInProgress {
			inProgress++
		}
	}

	if inProgress > 1 {
		return errdefs.Validationf("only one task can be in_progress at a time, got %d", inProgress)
	}
	return nil
}

// Items returns a copy of the current items
func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Render formats the list as the model sees it:
//
//	[x] Completed task
//	[>] In progress task <- Doing something
//	[ ] Pending task
//
//	(1/3 completed)
func (l *List) Render() string {
	return render(l.Items())
}

func render(items []Item) string {
	if len(items) == 0 {
		return "No todos."
	}

	lines := make([]string, 0, len(items)+1)
	completed := 0
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			completed++
			lines = append(lines, "[x] "+item.Content)
		case StatusInProgress:
			lines = append(lines, fmt.Sprintf("[>] %s <- %s", item.Content, item.ActiveForm))
		default:
			lines = append(lines, "[ ] "+item.Content)
		}
	}
	lines = append(lines, fmt.Sprintf("\n(%d/%d completed)", completed, len(items)))

	return strings.Join(lines, "\n")
}

// Store keeps one list per run id
type Store struct {
	mu    sync.Mutex
	lists map[string]*List
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{lists: make(map[string]*List)}
}

// For returns the list of runID, creating it on first use
func (s *Store) For(runID string) *List {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[runID]
	if !ok {
		l = NewList()
		s.lists[runID] = l
	}
	return l
}

// Release drops the list of a finished run
func (s *Store) Release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, runID)
}

// Len returns the number of live lists
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists)
}
