//go:build unix

package relay

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	units "github.com/docker/go-units"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// OSSupervisor runs the sender as a real child process.
type OSSupervisor struct {
	logger      *zap.Logger
	maxLogBytes int64
}

// NewOSSupervisor returns a supervisor that truncates the sender log before
// a launch once it has grown past maxLogBytes. Zero disables the cap.
func NewOSSupervisor(logger *zap.Logger, maxLogBytes int64) *OSSupervisor {
	return &OSSupervisor{
		logger:      logger.Named("supervisor"),
		maxLogBytes: maxLogBytes,
	}
}

func (s *OSSupervisor) Spawn(argv []string, logPath string) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("spawn: empty command")
	}

	out, err := s.openLog(logPath)
	if err != nil {
		return -1, err
	}
	defer out.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	// Own process group so terminal signals aimed at us do not reach it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", argv[0], err)
	}

	pid := -1
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	s.logger.Info("sender spawned", zap.Int("pid", pid), zap.Strings("argv", argv))

	go func() {
		err := cmd.Wait()
		s.logger.Info("sender exited", zap.Int("pid", pid), zap.Error(err))
	}()

	return pid, nil
}

func (s *OSSupervisor) openLog(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if s.maxLogBytes > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() && fi.Size() > s.maxLogBytes {
			s.logger.Info("truncating sender log",
				zap.String("path", path),
				zap.String("size", units.HumanSize(float64(fi.Size()))),
				zap.String("limit", units.HumanSize(float64(s.maxLogBytes))))
			flags |= os.O_TRUNC
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sender log: %w", err)
	}
	return f, nil
}

func (s *OSSupervisor) TerminateByID(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	s.logger.Info("sent SIGTERM", zap.Int("pid", pid))
	return nil
}

func (s *OSSupervisor) TerminateByName(pattern string) (int, error) {
	return s.SignalByName(pattern, unix.SIGTERM)
}

func (s *OSSupervisor) SignalByName(pattern string, sig os.Signal) (int, error) {
	signum, ok := sig.(syscall.Signal)
	if !ok {
		return 0, fmt.Errorf("unsupported signal %v", sig)
	}

	pids, err := matchProcesses(pattern)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, pid := range pids {
		if err := unix.Kill(int(pid), signum); err != nil {
			s.logger.Warn("signal failed", zap.Int32("pid", pid), zap.Stringer("signal", signum), zap.Error(err))
			continue
		}
		sent++
	}
	s.logger.Debug("signalled processes",
		zap.String("pattern", pattern),
		zap.Stringer("signal", signum),
		zap.Int("count", sent))
	return sent, nil
}

// matchProcesses returns the ids of processes whose command line contains
// pattern, excluding this process.
func matchProcesses(pattern string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			name, nerr := p.Name()
			if nerr != nil {
				continue
			}
			cmdline = name
		}
		if strings.Contains(cmdline, pattern) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}
