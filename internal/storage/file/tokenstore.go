// Package file implements the device token registry on a single JSON file.
//
// It is the default backend for single-host deployments: the full token
// set is rewritten on every successful registration using a
// write-temp-then-rename protocol so readers never observe a partial file,
// and loading degrades gracefully through an ordered chain of parse
// strategies so a damaged file can never stop the service from starting.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

// LoadStrategy names which parse strategy produced the in-memory set, for
// diagnostics after a recovery.
type LoadStrategy string

const (
	// LoadEmpty means the file was absent or empty.
	LoadEmpty LoadStrategy = "empty"
	// LoadStrict means the file parsed as a JSON string array.
	LoadStrict LoadStrategy = "strict"
	// LoadRecovered means strict parsing failed and tokens were salvaged
	// line by line.
	LoadRecovered LoadStrategy = "recovered"
)

// minRecoverableLine is the shortest line the salvage pass will accept as
// a token; anything shorter is JSON punctuation or garbage.
const minRecoverableLine = 10

// Store is a mutex-guarded token set persisted to a JSON file.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]struct{}

	// loadedVia records the strategy of the most recent load.
	loadedVia LoadStrategy
}

// NewStore creates the store and performs the initial load. Load failures
// are logged and absorbed; the store always starts usable.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With("component", "FileTokenStore", "path", path),
	}
	s.tokens, s.loadedVia = s.load()
	s.logger.Info("Token registry loaded", "count", len(s.tokens), "strategy", s.loadedVia)
	return s
}

// Register adds a token and persists the full set. Registering a known
// token is an idempotent no-op that skips the write.
func (s *Store) Register(_ context.Context, token string) (dispatch.RegisterResult, error) {
	if err := dispatch.ValidateToken(token); err != nil {
		return dispatch.RegisterResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; ok {
		return dispatch.RegisterResult{AlreadyPresent: true, Total: len(s.tokens)}, nil
	}

	s.tokens[token] = struct{}{}
	if err := s.persistLocked(); err != nil {
		// Roll the insert back so a retry re-attempts the write instead of
		// hitting the idempotent early return with nothing on disk.
		delete(s.tokens, token)
		return dispatch.RegisterResult{}, fmt.Errorf("persist token registry: %w", err)
	}
	return dispatch.RegisterResult{AlreadyPresent: false, Total: len(s.tokens)}, nil
}

// Snapshot returns a sorted copy of the token set.
func (s *Store) Snapshot(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes a token and persists the change. Absent tokens are a
// no-op.
func (s *Store) Remove(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; !ok {
		return nil
	}
	delete(s.tokens, token)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist token registry: %w", err)
	}
	return nil
}

// Reload discards the in-memory set and re-runs the load chain.
func (s *Store) Reload(_ context.Context) error {
	tokens, via := s.load()

	s.mu.Lock()
	s.tokens = tokens
	s.loadedVia = via
	count := len(tokens)
	s.mu.Unlock()

	s.logger.Info("Token registry reloaded", "count", count, "strategy", via)
	return nil
}

// LoadedVia reports which strategy produced the current set.
func (s *Store) LoadedVia() LoadStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedVia
}

// persistLocked writes the full set. Callers must hold mu.
//
// Protocol: best-effort rename of the current file to a .bak suffix, then
// write a temp file in the same directory and atomically rename it into
// place. A failed backup never aborts the write.
func (s *Store) persistLocked() error {
	tokens := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}

	if _, statErr := os.Stat(s.path); statErr == nil {
		if bakErr := os.Rename(s.path, s.path+".bak"); bakErr != nil {
			s.logger.Warn("Failed to back up token file, continuing", "err", bakErr)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// load runs the parse strategies in order and reports which one produced
// the result. It never fails: the worst case is an empty set.
func (s *Store) load() (map[string]struct{}, LoadStrategy) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Token file unreadable, starting empty", "err", err)
		}
		return map[string]struct{}{}, LoadEmpty
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]struct{}{}, LoadEmpty
	}

	if tokens, ok := parseStrict(data); ok {
		return tokens, LoadStrict
	}

	s.logger.Warn("Token file failed strict parsing, attempting line recovery")
	tokens := parseLines(data)
	if len(tokens) == 0 {
		s.logger.Warn("Line recovery found no tokens, starting empty")
		return tokens, LoadEmpty
	}
	return tokens, LoadRecovered
}

// parseStrict accepts only a JSON array of strings, silently dropping
// entries that fail validation (they can only have come from external
// edits).
func parseStrict(data []byte) (map[string]struct{}, bool) {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false
	}
	tokens := make(map[string]struct{}, len(list))
	for _, t := range list {
		if dispatch.ValidateToken(t) == nil {
			tokens[t] = struct{}{}
		}
	}
	return tokens, true
}

// parseLines salvages tokens from a corrupt file: any line longer than
// minRecoverableLine containing the token separator is accepted after
// stripping JSON punctuation.
func parseLines(data []byte) map[string]struct{} {
	tokens := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.Trim(strings.TrimSpace(scanner.Text()), `",[]`)
		if len(line) > minRecoverableLine && strings.Contains(line, dispatch.TokenSeparator) {
			tokens[line] = struct{}{}
		}
	}
	return tokens
}
