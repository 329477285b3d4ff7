// Package download holds the asset download queue and the drainer that
// empties it through a fetch.Fetcher.
package download

// Task is one asset to fetch to a local path.
type Task struct {
	URL         string
	Destination string
}

// Queue is a FIFO of download tasks. It belongs to a single engine and is
// not safe for concurrent use. Its contents survive a failed drain so the
// next cycle resumes where the last one stopped.
type Queue struct {
	tasks []Task
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends t.
func (q *Queue) Push(t Task) {
	q.tasks = append(q.tasks, t)
}

// PushFront puts t back at the head, ahead of every queued task.
func (q *Queue) PushFront(t Task) {
	q.tasks = append([]Task{t}, q.tasks...)
}

// Pop removes and returns the head task.
func (q *Queue) Pop() (Task, bool) {
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	return t, true
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}
