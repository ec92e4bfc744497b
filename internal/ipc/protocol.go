// Package ipc implements the local request channel between the focus daemon
// and its one-shot clients.
//
// Every exchange is a single newline-terminated JSON request followed by a
// single newline-terminated JSON response over a unix socket. There is one
// socket per distinct output set so independently scoped daemons coexist.
package ipc

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bryanchriswhite/focushist/internal/history"
	"github.com/bryanchriswhite/focushist/internal/scope"
)

// MaxMessageSize bounds a single request or response line
const MaxMessageSize = 64 * 1024

// ErrScopeMismatch is returned when a request's outputs differ from the daemon's
var ErrScopeMismatch = errors.New("output set does not match daemon configuration")

// Command is a traversal request
type Command string

const (
	CommandNext Command = "next"
	CommandPrev Command = "prev"
)

// ParseCommand validates a command name
func ParseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandNext, CommandPrev:
		return Command(s), nil
	default:
		return "", fmt.Errorf("unknown command %q", s)
	}
}

// Direction maps the command onto a history traversal direction
func (c Command) Direction() history.Direction {
	if c == CommandNext {
		return history.Forward
	}
	return history.Backward
}

// Status is the outcome carried by a Response
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoHistory     Status = "no_history"
	StatusScopeMismatch Status = "scope_mismatch"
	StatusError         Status = "error"
)

// Request is sent by a client
type Request struct {
	Command Command  `json:"command"`
	Outputs []string `json:"outputs"`
}

// Response is sent by the daemon
type Response struct {
	Status   Status `json:"status"`
	WindowID string `json:"window_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SocketName returns the socket file name for an output set
func SocketName(set scope.Set) string {
	return "focus-" + set.Key() + ".sock"
}

// SocketPath returns the socket path for an output set inside runtimeDir
func SocketPath(runtimeDir string, set scope.Set) string {
	return filepath.Join(runtimeDir, SocketName(set))
}
