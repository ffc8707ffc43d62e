package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// state is the on-disk layout of the agent state file
type state struct {
	Symbols []string `yaml:"symbols"`
}

// SymbolSet is the persisted set of tracked symbols. It is shared by the
// stock and mailbox loops; every change is written to disk before the call
// returns.
type SymbolSet struct {
	mu      sync.Mutex
	path    string
	symbols []string
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// LoadSymbolSet reads the state file at path. When the file does not exist
// the set starts from initial.
func LoadSymbolSet(path string, initial []string) (*SymbolSet, error) {
	set := &SymbolSet{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		for _, s := range initial {
			set.add(s)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	default:
		var st state
		if err := yaml.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
		}
		for _, s := range st.Symbols {
			set.add(s)
		}
	}
	return set, nil
}

func (s *SymbolSet) add(symbol string) bool {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return false
	}
	for _, existing := range s.symbols {
		if existing == symbol {
			return false
		}
	}
	s.symbols = append(s.symbols, symbol)
	return true
}

// List returns a copy of the tracked symbols in insertion order
func (s *SymbolSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// Contains reports whether symbol is tracked
func (s *SymbolSet) Contains(symbol string) bool {
	symbol = normalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.symbols {
		if existing == symbol {
			return true
		}
	}
	return false
}

// Add tracks symbol and persists the set. Adding a tracked symbol is a no-op.
func (s *SymbolSet) Add(symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.add(symbol) {
		return false, nil
	}
	return true, s.save()
}

// Remove stops tracking symbol and persists the set
func (s *SymbolSet) Remove(symbol string) (bool, error) {
	symbol = normalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.symbols {
		if existing == symbol {
			s.symbols = append(s.symbols[:i], s.symbols[i+1:]...)
			return true, s.save()
		}
	}
	return false, nil
}

// Save writes the current set to disk
func (s *SymbolSet) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save replaces the state file atomically. Callers hold s.mu.
func (s *SymbolSet) save() error {
	data, err := yaml.Marshal(state{Symbols: append([]string{}, s.symbols...)})
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".agent-state-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
