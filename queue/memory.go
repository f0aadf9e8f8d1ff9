package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process local Queue for development and tests.
type Memory struct {
	mu         sync.Mutex
	now        func() time.Time
	lease      time.Duration
	pending    map[string][]*Task
	processing map[string]map[uuid.UUID]claim
}

type claim struct {
	task     *Task
	deadline time.Time
}

var _ Queue = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		lease:      DefaultLease,
		pending:    make(map[string][]*Task),
		processing: make(map[string]map[uuid.UUID]claim),
	}
}

// WithClock replaces the clock used to decide whether a task is due.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// WithLease sets how long a dequeued task is reserved for its consumer.
func (m *Memory) WithLease(lease time.Duration) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lease = lease
	return m
}

func (m *Memory) Enqueue(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *task
	list := append(m.pending[task.Queue], &copied)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].NotBefore.Before(list[j].NotBefore)
	})
	m.pending[task.Queue] = list
	return nil
}

func (m *Memory) Dequeue(_ context.Context, queue string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.pending[queue]
	if len(list) == 0 || list[0].NotBefore.After(m.now()) {
		return nil, nil
	}
	task := list[0]
	m.pending[queue] = list[1:]
	if m.processing[queue] == nil {
		m.processing[queue] = make(map[uuid.UUID]claim)
	}
	m.processing[queue][task.ID] = claim{task: task, deadline: m.now().Add(m.lease)}

	copied := *task
	return &copied, nil
}

func (m *Memory) Ack(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.processing[task.Queue], task.ID)
	return nil
}

func (m *Memory) DiscardBefore(_ context.Context, queue string, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*Task
	discarded := 0
	for _, task := range m.pending[queue] {
		if task.EnqueuedAt.Before(t) {
			discarded++
			continue
		}
		kept = append(kept, task)
	}
	m.pending[queue] = kept
	return discarded, nil
}

func (m *Memory) Recover(_ context.Context, queue string) (int, error) {
	m.mu.Lock()
	now := m.now()
	var expired []*Task
	for id, c := range m.processing[queue] {
		if c.deadline.After(now) {
			continue
		}
		expired = append(expired, c.task)
		delete(m.processing[queue], id)
	}
	m.mu.Unlock()

	for _, task := range expired {
		if err := m.Enqueue(context.Background(), task); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Claimed returns a copy of the dequeued but unacknowledged tasks of queue.
func (m *Memory) Claimed(queue string) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]Task, 0, len(m.processing[queue]))
	for _, c := range m.processing[queue] {
		list = append(list, *c.task)
	}
	return list
}

// Pending returns a copy of the tasks waiting in queue, due first.
func (m *Memory) Pending(queue string) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]Task, 0, len(m.pending[queue]))
	for _, task := range m.pending[queue] {
		list = append(list, *task)
	}
	return list
}
