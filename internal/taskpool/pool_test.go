package taskpool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	TaskBase
	released bool
}

func newFakeTask(p *Pool[*fakeTask], tag string, priority int) *fakeTask {
	t := &fakeTask{}
	t.Init(p.NextSerialID(), tag, priority, nil)
	return t
}

type fakeAgent struct {
	status      StartStatus
	waitOn      map[int]bool
	finishAfter int
	updateErr   error

	task      *fakeTask
	started   []int
	updates   int
	resets    int
	inits     int
	shutdowns int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{status: StartCanResume}
}

func (a *fakeAgent) Initialize() error {
	a.inits++
	return nil
}

func (a *fakeAgent) Start(task *fakeTask) StartStatus {
	a.task = task
	a.started = append(a.started, task.SerialID())
	a.updates = 0
	if a.waitOn[task.SerialID()] {
		return StartHasToWait
	}
	if a.status == StartDone || a.status == StartUnknownError {
		task.SetDone()
	}
	return a.status
}

func (a *fakeAgent) Update(dt, realDt time.Duration) error {
	a.updates++
	if a.finishAfter > 0 && a.updates >= a.finishAfter {
		a.task.SetDone()
	}
	return a.updateErr
}

func (a *fakeAgent) Reset() {
	a.task = nil
	a.resets++
}

func (a *fakeAgent) Shutdown() {
	a.shutdowns++
}

func newTestPool(t *testing.T) (*Pool[*fakeTask], *[]*fakeTask) {
	t.Helper()
	var released []*fakeTask
	p := New(Options[*fakeTask]{
		Release: func(task *fakeTask) {
			task.released = true
			released = append(released, task)
		},
	})
	return p, &released
}

func serials(infos []TaskInfo) []int {
	out := make([]int, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.SerialID)
	}
	return out
}

func TestAddAgentRejectsNil(t *testing.T) {
	p, _ := newTestPool(t)

	assert.ErrorIs(t, p.AddAgent(nil), ErrInvalidAgent)

	var typedNil *fakeAgent
	assert.ErrorIs(t, p.AddAgent(typedNil), ErrInvalidAgent)
	assert.Zero(t, p.TotalAgentCount())
}

func TestAddAgentInitializes(t *testing.T) {
	p, _ := newTestPool(t)
	a := newFakeAgent()

	require.NoError(t, p.AddAgent(a))
	assert.Equal(t, 1, a.inits)
	assert.Equal(t, 1, p.FreeAgentCount())
}

func TestAddTaskRejectsNil(t *testing.T) {
	p, _ := newTestPool(t)
	assert.ErrorIs(t, p.AddTask(nil), ErrInvalidTask)
}

func TestAddTaskOrdersByPriorityThenArrival(t *testing.T) {
	p, _ := newTestPool(t)

	priorities := []int{5, 10, 5, 7, 10, 1, 7}
	for _, prio := range priorities {
		require.NoError(t, p.AddTask(newFakeTask(p, "", prio)))
	}

	// serial ids are 1..7 in insertion order
	assert.Equal(t, []int{2, 5, 4, 7, 1, 3, 6}, serials(p.AllTaskInfos()))

	infos := p.AllTaskInfos()
	for i := 1; i < len(infos); i++ {
		assert.GreaterOrEqual(t, infos[i-1].Priority, infos[i].Priority)
	}
}

func TestHigherPriorityIsAdmittedFirst(t *testing.T) {
	p, _ := newTestPool(t)
	agent := newFakeAgent()
	require.NoError(t, p.AddAgent(agent))

	a := newFakeTask(p, "", 5)
	b := newFakeTask(p, "", 10)
	require.NoError(t, p.AddTask(a))
	require.NoError(t, p.AddTask(b))
	assert.Equal(t, []int{b.SerialID(), a.SerialID()}, serials(p.AllTaskInfos()))

	require.NoError(t, p.Update(time.Second, time.Second))

	assert.Equal(t, []int{b.SerialID()}, agent.started)
	assert.Equal(t, 1, p.WorkingAgentCount())
	assert.Equal(t, 1, p.WaitingTaskCount())

	info, ok := p.TaskInfo(b.SerialID())
	require.True(t, ok)
	assert.Equal(t, StatusDoing, info.Status)

	info, ok = p.TaskInfo(a.SerialID())
	require.True(t, ok)
	assert.Equal(t, StatusTodo, info.Status)
}

func TestAdmittedTaskIsFirstUpdatedNextTick(t *testing.T) {
	p, _ := newTestPool(t)
	agent := newFakeAgent()
	require.NoError(t, p.AddAgent(agent))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))

	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Zero(t, agent.updates)

	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Equal(t, 1, agent.updates)
}

func TestDoneTaskIsReclaimed(t *testing.T) {
	p, released := newTestPool(t)
	agent := newFakeAgent()
	agent.finishAfter = 1
	require.NoError(t, p.AddAgent(agent))

	task := newFakeTask(p, "", 0)
	require.NoError(t, p.AddTask(task))

	require.NoError(t, p.Update(time.Second, time.Second)) // admit
	require.NoError(t, p.Update(time.Second, time.Second)) // update, task done

	info, ok := p.TaskInfo(task.SerialID())
	require.True(t, ok)
	assert.Equal(t, StatusDone, info.Status)

	require.NoError(t, p.Update(time.Second, time.Second)) // reclaim
	_, ok = p.TaskInfo(task.SerialID())
	assert.False(t, ok)
	assert.True(t, task.released)
	assert.Len(t, *released, 1)
	assert.Equal(t, 1, p.FreeAgentCount())
	assert.Equal(t, 1, agent.resets)
}

func TestAgentCountIsInvariant(t *testing.T) {
	p, _ := newTestPool(t)
	for i := 0; i < 3; i++ {
		a := newFakeAgent()
		a.finishAfter = i + 1
		require.NoError(t, p.AddAgent(a))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, p.AddTask(newFakeTask(p, "", i%3)))
	}

	for tick := 0; tick < 40; tick++ {
		require.NoError(t, p.Update(time.Second, time.Second))
		assert.Equal(t, 3, p.FreeAgentCount()+p.WorkingAgentCount())
		assert.Equal(t, 3, p.TotalAgentCount())
	}
	assert.Zero(t, p.WaitingTaskCount())
	assert.Zero(t, p.WorkingAgentCount())
}

func TestSerialIDsArePerPool(t *testing.T) {
	p1, _ := newTestPool(t)
	p2, _ := newTestPool(t)

	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		id := p1.NextSerialID()
		assert.False(t, seen[id], "serial id %d repeated", id)
		seen[id] = true
	}

	assert.Equal(t, 1, p2.NextSerialID())
	assert.Equal(t, 2, p2.NextSerialID())
}

func TestHasToWaitKeepsTaskAndMovesOn(t *testing.T) {
	p, released := newTestPool(t)

	x := newFakeTask(p, "", 10)
	y := newFakeTask(p, "", 5)

	agent := newFakeAgent()
	agent.waitOn = map[int]bool{x.SerialID(): true}
	require.NoError(t, p.AddAgent(agent))

	require.NoError(t, p.AddTask(x))
	require.NoError(t, p.AddTask(y))

	require.NoError(t, p.Update(time.Second, time.Second))

	// x was refused and y went to the same agent in the same tick.
	assert.Equal(t, []int{x.SerialID(), y.SerialID()}, agent.started)
	assert.Equal(t, 1, agent.resets)

	info, ok := p.TaskInfo(x.SerialID())
	require.True(t, ok)
	assert.Equal(t, StatusTodo, info.Status)
	info, ok = p.TaskInfo(y.SerialID())
	require.True(t, ok)
	assert.Equal(t, StatusDoing, info.Status)

	assert.Equal(t, 1, p.WaitingTaskCount())
	assert.Equal(t, 1, p.WorkingAgentCount())
	assert.Zero(t, p.FreeAgentCount())
	assert.Empty(t, *released)
}

func TestHasToWaitRetriesNextTick(t *testing.T) {
	p, _ := newTestPool(t)

	x := newFakeTask(p, "", 0)
	agent := newFakeAgent()
	agent.waitOn = map[int]bool{x.SerialID(): true}
	require.NoError(t, p.AddAgent(agent))
	require.NoError(t, p.AddTask(x))

	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Len(t, agent.started, 1)
	assert.Equal(t, 1, p.FreeAgentCount())

	delete(agent.waitOn, x.SerialID())
	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Len(t, agent.started, 2)
	assert.Equal(t, 1, p.WorkingAgentCount())
	assert.Zero(t, p.WaitingTaskCount())
}

func TestImmediateCompletionReleasesTask(t *testing.T) {
	for _, status := range []StartStatus{StartDone, StartUnknownError} {
		t.Run(status.String(), func(t *testing.T) {
			p, released := newTestPool(t)
			agent := newFakeAgent()
			agent.status = status
			require.NoError(t, p.AddAgent(agent))

			task := newFakeTask(p, "", 0)
			require.NoError(t, p.AddTask(task))
			require.NoError(t, p.Update(time.Second, time.Second))

			assert.True(t, task.released)
			assert.Len(t, *released, 1)
			assert.Zero(t, p.WaitingTaskCount())
			assert.Zero(t, p.WorkingAgentCount())
			assert.Equal(t, 1, p.FreeAgentCount())
			assert.Equal(t, 1, agent.resets)
		})
	}
}

func TestRemoveWorkingTask(t *testing.T) {
	p, released := newTestPool(t)
	agent := newFakeAgent()
	require.NoError(t, p.AddAgent(agent))

	task := newFakeTask(p, "", 0)
	require.NoError(t, p.AddTask(task))
	require.NoError(t, p.Update(time.Second, time.Second))
	require.Equal(t, 1, p.WorkingAgentCount())

	assert.True(t, p.RemoveTask(task.SerialID()))
	assert.Equal(t, 1, p.FreeAgentCount())
	assert.Zero(t, p.WorkingAgentCount())
	assert.Equal(t, 1, agent.resets)
	assert.Len(t, *released, 1)
	assert.Empty(t, p.AllTaskInfos())

	assert.False(t, p.RemoveTask(task.SerialID()))
}

func TestRemoveUnknownTask(t *testing.T) {
	p, _ := newTestPool(t)
	assert.False(t, p.RemoveTask(42))
	assert.Zero(t, p.RemoveTasks("missing"))
	_, ok := p.TaskInfo(42)
	assert.False(t, ok)
	assert.Empty(t, p.TaskInfos("missing"))
}

func TestRemoveTasksByTag(t *testing.T) {
	p, released := newTestPool(t)
	require.NoError(t, p.AddAgent(newFakeAgent()))

	require.NoError(t, p.AddTask(newFakeTask(p, "video", 3)))
	require.NoError(t, p.AddTask(newFakeTask(p, "audio", 2)))
	require.NoError(t, p.AddTask(newFakeTask(p, "video", 1)))
	require.NoError(t, p.Update(time.Second, time.Second))

	assert.Len(t, p.TaskInfos("video"), 2)
	assert.Equal(t, 2, p.RemoveTasks("video"))
	assert.Len(t, *released, 2)
	assert.Empty(t, p.TaskInfos("video"))
	assert.Len(t, p.TaskInfos("audio"), 1)
	assert.Equal(t, 1, p.FreeAgentCount())

	assert.Equal(t, 1, p.RemoveAllTasks())
	assert.Empty(t, p.AllTaskInfos())
}

func TestPausedUpdateIsNoop(t *testing.T) {
	p, _ := newTestPool(t)
	agent := newFakeAgent()
	require.NoError(t, p.AddAgent(agent))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))

	p.SetPaused(true)
	require.True(t, p.Paused())
	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Empty(t, agent.started)
	assert.Equal(t, 1, p.WaitingTaskCount())

	p.SetPaused(false)
	require.NoError(t, p.Update(time.Second, time.Second))
	assert.Len(t, agent.started, 1)
}

func TestAgentErrorsDoNotStopTick(t *testing.T) {
	p, _ := newTestPool(t)
	failing := newFakeAgent()
	failing.updateErr = errors.New("boom")
	healthy := newFakeAgent()
	require.NoError(t, p.AddAgent(healthy))
	require.NoError(t, p.AddAgent(failing))

	require.NoError(t, p.AddTask(newFakeTask(p, "", 1)))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))
	require.NoError(t, p.Update(time.Second, time.Second))

	err := p.Update(time.Second, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, healthy.updates)
	assert.Equal(t, 1, failing.updates)
}

func TestShutdownStopsAgents(t *testing.T) {
	p, released := newTestPool(t)
	a1, a2 := newFakeAgent(), newFakeAgent()
	require.NoError(t, p.AddAgent(a1))
	require.NoError(t, p.AddAgent(a2))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))
	require.NoError(t, p.AddTask(newFakeTask(p, "", 0)))
	require.NoError(t, p.Update(time.Second, time.Second))

	p.Shutdown()

	assert.Equal(t, 1, a1.shutdowns)
	assert.Equal(t, 1, a2.shutdowns)
	assert.Len(t, *released, 3)
	assert.Zero(t, p.TotalAgentCount())
	assert.Zero(t, p.WaitingTaskCount())
}
