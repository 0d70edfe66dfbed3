package runner

import (
	"container/heap"
	"sync"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// Queue is an in-memory priority queue of pending tasks. Higher priority
// pops first; tasks of equal priority pop in insertion order. Requeued
// tasks go behind queued work of the same priority so one stuck task
// cannot starve the rest.
type Queue struct {
	mu    sync.Mutex
	items queueItems
	seq   uint64
}

type queueItem struct {
	task  *models.Task
	rank  int
	seq   uint64
	index int
}

type queueItems []*queueItem

func (q queueItems) Len() int { return len(q) }

func (q queueItems) Less(i, j int) bool {
	if q[i].rank != q[j].rank {
		return q[i].rank > q[j].rank
	}
	return q[i].seq < q[j].seq
}

func (q queueItems) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queueItems) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *queueItems) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// NewQueue creates an empty task queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add enqueues a task.
func (q *Queue) Add(task *models.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.items, &queueItem{
		task: task,
		rank: task.Priority.Rank(),
		seq:  q.seq,
	})
}

// Next removes and returns the highest-priority task. The second return
// value is false when the queue is empty.
func (q *Queue) Next() (*models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.task, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the pending tasks in pop order without removing them.
func (q *Queue) Snapshot() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	sorted := make(queueItems, len(q.items))
	copy(sorted, q.items)
	tmp := make(queueItems, 0, len(sorted))
	for _, item := range sorted {
		tmp = append(tmp, &queueItem{task: item.task, rank: item.rank, seq: item.seq})
	}
	heap.Init(&tmp)

	out := make([]*models.Task, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(*queueItem).task)
	}
	return out
}
