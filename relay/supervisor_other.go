//go:build !unix

package relay

import (
	"errors"
	"os"

	"go.uber.org/zap"
)

// OSSupervisor is unavailable on this platform; every call fails.
type OSSupervisor struct{}

func NewOSSupervisor(_ *zap.Logger, _ int64) *OSSupervisor {
	return &OSSupervisor{}
}

func (s *OSSupervisor) Spawn([]string, string) (int, error) {
	return -1, errors.ErrUnsupported
}

func (s *OSSupervisor) TerminateByID(int) error {
	return errors.ErrUnsupported
}

func (s *OSSupervisor) TerminateByName(string) (int, error) {
	return 0, errors.ErrUnsupported
}

func (s *OSSupervisor) SignalByName(string, os.Signal) (int, error) {
	return 0, errors.ErrUnsupported
}
