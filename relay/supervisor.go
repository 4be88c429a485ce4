package relay

import "os"

// Supervisor is the narrow process-control capability the controller needs.
// Implementations must not block waiting for a spawned process to exit.
type Supervisor interface {
	// Spawn launches argv detached with stdout and stderr appended to
	// logPath. It returns the process id, or -1 when it is unknown.
	Spawn(argv []string, logPath string) (pid int, err error)
	// TerminateByID asks the process with the given id to exit.
	TerminateByID(pid int) error
	// TerminateByName asks every process whose command line contains
	// pattern to exit and returns how many were signalled.
	TerminateByName(pattern string) (int, error)
	// SignalByName delivers sig to every process whose command line
	// contains pattern and returns how many were signalled.
	SignalByName(pattern string, sig os.Signal) (int, error)
}
