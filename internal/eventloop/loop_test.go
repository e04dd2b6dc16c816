package eventloop

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/citusdata/pg-cron/internal/jobstore"
	"github.com/citusdata/pg-cron/internal/session"
	"github.com/citusdata/pg-cron/internal/task"
)

// stubSession is a minimal session.Session whose only job in these tests is
// to report a pollable fd; none of its other methods are exercised here
// (the full state-machine/session contract is covered by internal/task's
// tests).
type stubSession struct {
	fd int
}

func (s *stubSession) Socket() int                                           { return s.fd }
func (s *stubSession) ConnectPoll() session.PollStatus                       { return session.PollOK }
func (s *stubSession) SendQuery(string) bool                                 { return true }
func (s *stubSession) ConsumeInput() error                                   { return nil }
func (s *stubSession) IsBusy() bool                                          { return false }
func (s *stubSession) NextResult() (session.ResultStatus, string, bool)      { return session.ResultCommandOK, "", false }
func (s *stubSession) Close()                                                {}

func TestPollFdForMatchesPollingStatus(t *testing.T) {
	ct := task.New(1)
	ct.Session = nil
	if fd := pollFdFor(ct); fd.Fd != -1 {
		t.Fatalf("expected fd=-1 for a task with no session, got %d", fd.Fd)
	}

	ct.Session = &stubSession{fd: 7}
	ct.PollingStatus = task.PollingRead
	fd := pollFdFor(ct)
	if fd.Fd != 7 || fd.Events != unix.POLLERR|unix.POLLIN {
		t.Fatalf("expected fd=7 events=POLLERR|POLLIN, got fd=%d events=%d", fd.Fd, fd.Events)
	}

	ct.PollingStatus = task.PollingWrite
	fd = pollFdFor(ct)
	if fd.Events != unix.POLLERR|unix.POLLOUT {
		t.Fatalf("expected POLLERR|POLLOUT, got %d", fd.Events)
	}

	ct.PollingStatus = task.PollingOK
	fd = pollFdFor(ct)
	if fd.Fd != -1 {
		t.Fatalf("expected fd=-1 once polling status is OK, got %d", fd.Fd)
	}
}

func TestWaitForTasksSkipsPollWhenWorkPending(t *testing.T) {
	l := &Loop{logger: nil}
	ct := task.New(jobstore.JobID(1))
	ct.PendingRunCount = 1

	start := time.Now()
	l.waitForTasks([]*task.CronTask{ct}, time.Now().UTC())
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected waitForTasks to return immediately when work is pending, took %v", elapsed)
	}
}

func TestWaitForTasksObservesReadyPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if _, err := w.Write([]byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	l := &Loop{logger: nil}
	ct := task.New(jobstore.JobID(1))
	ct.State = task.StateRunning
	ct.PollingStatus = task.PollingRead
	ct.Session = &stubSession{fd: int(r.Fd())}

	start := time.Now()
	l.waitForTasks([]*task.CronTask{ct}, time.Now().UTC())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected poll to return promptly once the pipe is readable, took %v", elapsed)
	}
	if !ct.IsSocketReady {
		t.Fatalf("expected IsSocketReady to be set once the fd reported POLLIN")
	}
}
