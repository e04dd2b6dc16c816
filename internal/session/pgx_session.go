package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
)

// pgxSession wraps jackc/pgx/v5's synchronous client so it can be driven by
// a single-threaded poll(2)-style event loop.
//
// pgx's public API performs the wire handshake and waits for results
// internally — there is no PQconnectPoll/PQisBusy equivalent to call from
// outside. Reimplementing the Postgres wire protocol by hand to get a truly
// non-blocking client is out of scope here. Instead,
// every blocking step (connect, then execute) runs on a dedicated goroutine
// that signals completion by writing one byte to an os.Pipe(); Socket()
// exposes that pipe's read end. The event loop's poll call therefore still
// multiplexes one real fd per in-flight task, and the state machine still
// advances only when the fd is reported ready or a deadline expires — only
// the thing being polled (a synchronization pipe, not a raw libpq socket)
// differs from the original.
type pgxSession struct {
	target Target

	pipeR *os.File
	pipeW *os.File

	mu        sync.Mutex
	conn      *pgx.Conn
	connErr   error
	connDone  atomic.Bool
	queryDone atomic.Bool
	queryErr  error
	tag       string
	delivered bool // NextResult has already handed back the one result
}

// Open starts the connection handshake in the background and returns
// immediately with a Session whose Socket() becomes readable once the
// connect attempt completes.
func Open(target Target) (Session, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("session: open signal pipe: %w", err)
	}
	s := &pgxSession{target: target, pipeR: r, pipeW: w}

	go func() {
		connString := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
			target.Host, target.Port, target.Database, target.User, target.Password)
		conn, err := pgx.Connect(context.Background(), connString)
		s.mu.Lock()
		s.conn = conn
		s.connErr = err
		s.mu.Unlock()
		s.connDone.Store(true)
		s.signal()
	}()

	return s, nil
}

func (s *pgxSession) signal() {
	// Best-effort: the pipe has ample buffer for the handful of signals a
	// single task's lifetime ever produces, so a failed write here (pipe
	// already closed by Close) is safe to ignore.
	_, _ = s.pipeW.Write([]byte{0})
}

func (s *pgxSession) drain() {
	buf := make([]byte, 16)
	for {
		n, err := s.pipeR.Read(buf)
		if n < len(buf) || err != nil {
			return
		}
	}
}

func (s *pgxSession) Socket() int {
	return int(s.pipeR.Fd())
}

func (s *pgxSession) ConnectPoll() PollStatus {
	if !s.connDone.Load() {
		return PollReading
	}
	s.drain()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return PollFailed
	}
	return PollOK
}

// copyPrefixes are commands this session refuses to dispatch: without a
// hand-rolled wire client there is no non-blocking way to drive libpq's
// COPY IN/OUT/BOTH sub-protocol, so these fail fast as CopyUnsupported.
var copyPrefixes = []string{"copy "}

func (s *pgxSession) SendQuery(command string) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	if looksLikeCopy(command) {
		s.queryErr = nil
		s.tag = ""
		go func() {
			s.mu.Lock()
			s.queryErr = errCopyUnsupported
			s.mu.Unlock()
			s.queryDone.Store(true)
			s.signal()
		}()
		return true
	}

	go func() {
		tag, err := conn.Exec(context.Background(), command)
		s.mu.Lock()
		s.queryErr = err
		if err == nil {
			s.tag = tag.String()
		}
		s.mu.Unlock()
		s.queryDone.Store(true)
		s.signal()
	}()
	return true
}

func looksLikeCopy(command string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(command))
	for _, prefix := range copyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

var errCopyUnsupported = fmt.Errorf("session: COPY is not supported by the non-blocking dispatch session")

func (s *pgxSession) ConsumeInput() error {
	if s.queryDone.Load() {
		s.drain()
	}
	return nil
}

func (s *pgxSession) IsBusy() bool {
	return !s.queryDone.Load()
}

func (s *pgxSession) NextResult() (ResultStatus, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delivered {
		return ResultCommandOK, "", false
	}
	s.delivered = true

	if s.queryErr != nil {
		if s.queryErr == errCopyUnsupported {
			return ResultCopyIn, s.queryErr.Error(), false
		}
		return ResultFatalError, s.queryErr.Error(), false
	}
	if s.tag == "" {
		return ResultEmptyQuery, "", false
	}
	return ResultCommandOK, s.tag, false
}

func (s *pgxSession) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(context.Background())
	}
	s.pipeR.Close()
	s.pipeW.Close()
}
