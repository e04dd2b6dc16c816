// Package session models the non-blocking client connection a task opens
// against a target database, the Go analogue of libpq's
// PQconnectStartParams/PQconnectPoll/PQsendQuery/PQgetResult handshake
// (pg_cron.c's ManageCronTask). See pgx_session.go for why the concrete
// implementation wraps jackc/pgx/v5 behind a pollable pipe rather than
// driving pgx's synchronous API directly from the event loop.
package session

import "fmt"

// PollStatus mirrors PQconnectPoll's PGRES_POLLING_* result: the caller
// keeps polling the socket for the reported direction until OK or Failed.
type PollStatus int

const (
	PollReading PollStatus = iota
	PollWriting
	PollOK
	PollFailed
)

func (p PollStatus) String() string {
	switch p {
	case PollReading:
		return "reading"
	case PollWriting:
		return "writing"
	case PollOK:
		return "ok"
	case PollFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResultStatus mirrors the PGRES_* categories ManageCronTask switches on
// when draining a query's results.
type ResultStatus int

const (
	ResultTuplesOK ResultStatus = iota
	ResultCommandOK
	ResultEmptyQuery
	ResultSingleTuple
	ResultNonfatalError
	ResultBadResponse
	ResultFatalError
	ResultCopyIn
	ResultCopyOut
	ResultCopyBoth
)

// Fatal reports whether this result category should fail the task, per
// Bad response, fatal error, and any COPY protocol are fatal;
// everything else (including nonfatal notices) is ignored for status
// purposes.
func (r ResultStatus) Fatal() bool {
	switch r {
	case ResultBadResponse, ResultFatalError, ResultCopyIn, ResultCopyOut, ResultCopyBoth:
		return true
	default:
		return false
	}
}

func (r ResultStatus) String() string {
	switch r {
	case ResultTuplesOK:
		return "tuples_ok"
	case ResultCommandOK:
		return "command_ok"
	case ResultEmptyQuery:
		return "empty_query"
	case ResultSingleTuple:
		return "single_tuple"
	case ResultNonfatalError:
		return "nonfatal_error"
	case ResultBadResponse:
		return "bad_response"
	case ResultFatalError:
		return "fatal_error"
	case ResultCopyIn:
		return "copy_in"
	case ResultCopyOut:
		return "copy_out"
	case ResultCopyBoth:
		return "copy_both"
	default:
		return "unknown"
	}
}

// Target identifies the database a task dispatches its command against.
type Target struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", t.User, t.Host, t.Port, t.Database)
}

// Session is a single-use, non-blocking client connection owned by exactly
// one task. Every method must return promptly without blocking on network
// I/O; progress is instead observed by polling the fd Socket() returns.
type Session interface {
	// Socket returns a pollable file descriptor. Its readiness is what the
	// event loop's poll(2)/unix.Poll call waits on.
	Socket() int
	// ConnectPoll advances the connection handshake one step.
	ConnectPoll() PollStatus
	// SendQuery dispatches command without blocking for its result.
	SendQuery(command string) bool
	// ConsumeInput reads any data the socket has ready without blocking.
	ConsumeInput() error
	// IsBusy reports whether a result is not yet fully available.
	IsBusy() bool
	// NextResult returns the next pending result. hasMore reports whether
	// additional results remain to be drained after this one.
	NextResult() (status ResultStatus, message string, hasMore bool)
	// Close releases the connection and any background goroutine/fd.
	Close()
}
