package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

const keyEnginePath = "engine_path"

// Settings is the small persisted settings file, a flat key=value text file
// holding values that survive restarts and can be changed at runtime. Reads
// and writes are serialized; every change is written back immediately.
type Settings struct {
	mu   sync.Mutex
	path string
	vals map[string]string
}

// LoadSettings reads the settings file at path. A missing file is not an
// error; it yields empty settings that materialize on first write.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{path: path, vals: map[string]string{}}

	vals, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	s.vals = vals
	return s, nil
}

// EnginePath returns the configured statistical engine executable path,
// or "" when none has been set.
func (s *Settings) EnginePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[keyEnginePath]
}

// SetEnginePath stores the engine executable path and rewrites the file.
func (s *Settings) SetEnginePath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vals[keyEnginePath] = path
	if err := godotenv.Write(s.vals, s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}
