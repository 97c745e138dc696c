package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-mfg/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f *fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, f.err
}

func (f *fakeInspector) Close() error { return nil }

func TestJobsTrigger(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewJobsCLIWith(enq, &fakeInspector{})

	var out, errOut bytes.Buffer
	code := c.Run(context.Background(), []string{"trigger", jobs.TaskStockAlerts}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskStockAlerts, enq.tasks[0].Type())
	require.Contains(t, out.String(), "id=task-1")
}

func TestJobsTriggerUnknownTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewJobsCLIWith(enq, &fakeInspector{})

	var out, errOut bytes.Buffer
	code := c.Run(context.Background(), []string{"trigger", "nope"}, &out, &errOut)
	require.Equal(t, 1, code)
	require.Empty(t, enq.tasks)
	require.Contains(t, errOut.String(), "nope")
}

func TestJobsInspect(t *testing.T) {
	c := NewJobsCLIWith(&fakeEnqueuer{}, &fakeInspector{info: &asynq.QueueInfo{Pending: 3, Retry: 1}})

	var out, errOut bytes.Buffer
	require.Equal(t, 0, c.Run(context.Background(), []string{"inspect"}, &out, &errOut))
	require.Contains(t, out.String(), `"pending": 3`)
	require.Contains(t, out.String(), `"retry": 1`)

	c = NewJobsCLIWith(&fakeEnqueuer{}, &fakeInspector{err: errors.New("redis down")})
	errOut.Reset()
	require.Equal(t, 1, c.Run(context.Background(), []string{"inspect"}, &out, &errOut))
	require.Contains(t, errOut.String(), "redis down")
}

func TestMigratorCommands(t *testing.T) {
	var downSteps int
	m := &Migrator{
		DSN:     "postgres://test",
		Up:      func(string) error { return nil },
		Down:    func(_ string, steps int) error { downSteps = steps; return nil },
		Version: func(string) (uint, bool, error) { return 6, false, nil },
	}

	var out, errOut bytes.Buffer
	require.Equal(t, 0, m.Run([]string{"up"}, &out, &errOut))
	require.Equal(t, 0, m.Run([]string{"down", "2"}, &out, &errOut))
	require.Equal(t, 2, downSteps)
	require.Equal(t, 0, m.Run([]string{"version"}, &out, &errOut))
	require.Contains(t, out.String(), "version=6 dirty=false")

	require.Equal(t, 2, m.Run([]string{"down", "zero"}, &out, &errOut))
	require.Equal(t, 2, m.Run([]string{"sideways"}, &out, &errOut))

	m.Up = func(string) error { return errors.New("boom") }
	require.Equal(t, 1, m.Run([]string{"up"}, &out, &errOut))
}
