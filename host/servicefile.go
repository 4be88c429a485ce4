package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// CustomServiceType is the service type for a user-supplied server URL.
const CustomServiceType = "rtmp_custom"

// ServiceFile reads and writes the stream server URL in an OBS profile
// service.json. Unknown keys in the file are preserved.
type ServiceFile struct {
	logger *zap.Logger
	path   string
	mu     sync.Mutex
}

func NewServiceFile(logger *zap.Logger, path string) *ServiceFile {
	return &ServiceFile{logger: logger.Named("host"), path: path}
}

func (s *ServiceFile) Path() string {
	return s.path
}

func (s *ServiceFile) ConnectionURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read service file", zap.String("path", s.path), zap.Error(err))
		}
		return "", false
	}

	settings, _ := doc["settings"].(map[string]interface{})
	for _, key := range []string{"server", "url"} {
		if v, ok := settings[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// SetConnectionURL stores url as the server of a custom service. The
// stream key is cleared since the stream id travels in the URL.
func (s *ServiceFile) SetConnectionURL(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("read service file", zap.String("path", s.path), zap.Error(err))
		return false
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}

	settings, _ := doc["settings"].(map[string]interface{})
	if settings == nil {
		settings = make(map[string]interface{})
	}
	settings["server"] = url
	settings["key"] = ""
	if _, ok := settings["url"]; ok {
		settings["url"] = url
	}
	doc["settings"] = settings
	doc["type"] = CustomServiceType

	if err := s.write(doc); err != nil {
		s.logger.Error("write service file", zap.String("path", s.path), zap.Error(err))
		return false
	}
	return true
}

func (s *ServiceFile) read() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *ServiceFile) write(doc map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode service: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write service: %w", err)
	}
	return os.Rename(tmp, s.path)
}
