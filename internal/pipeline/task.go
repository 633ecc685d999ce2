package pipeline

// Task is a handle on one pipeline goroutine
type Task struct {
	name string
	done chan struct{}
	err  error
}

func startTask(name string, fn func() error) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = fn()
	}()
	return t
}

// Name returns "producer" or "consumer"
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the task has returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task returns and reports its error
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
