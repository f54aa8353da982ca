// Package session manages the per-run working directories. Each run owns
// a fresh directory holding an advisory lock file with the owner's PID;
// cleanup passes leave directories with a fresh lock alone.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/logging"
)

// LockName is the lock file inside a session directory.
const LockName = ".lock"

// ErrLocked is returned when a directory already holds a live lock.
var ErrLocked = errors.New("session is locked")

var idPattern = regexp.MustCompile(`^\d{8}_\d{6}-[0-9a-f]{8}$`)

// Options configures lock staleness and retention.
type Options struct {
	// LockStaleAfter is the age after which a lock is treated as abandoned.
	LockStaleAfter time.Duration
	// RetainFor is how long an unlocked session directory is kept.
	RetainFor time.Duration
}

// DefaultOptions returns 30 minute staleness and 72 hour retention.
func DefaultOptions() Options {
	return Options{
		LockStaleAfter: 30 * time.Minute,
		RetainFor:      72 * time.Hour,
	}
}

// Manager creates and cleans up sessions under a root directory.
type Manager struct {
	root   string
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager creates a Manager rooted at root.
func NewManager(logger zerolog.Logger, root string, opts Options) *Manager {
	def := DefaultOptions()
	if opts.LockStaleAfter <= 0 {
		opts.LockStaleAfter = def.LockStaleAfter
	}
	if opts.RetainFor <= 0 {
		opts.RetainFor = def.RetainFor
	}
	return &Manager{
		root:   root,
		opts:   opts,
		now:    time.Now,
		logger: logging.Component(logger, "session"),
	}
}

// Root returns the directory sessions are created in.
func (m *Manager) Root() string { return m.root }

// Session is one locked working directory.
type Session struct {
	ID  string
	Dir string

	lockPath string
	once     sync.Once
	logger   zerolog.Logger
}

// NewID returns a session id of the form YYYYMMDD_HHMMSS-xxxxxxxx.
func NewID(now time.Time) string {
	return now.Format("20060102_150405") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsID reports whether name has the session id shape.
func IsID(name string) bool { return idPattern.MatchString(name) }

// Create makes a new session directory and locks it.
func (m *Manager) Create() (*Session, error) {
	id := NewID(m.now())
	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s := &Session{
		ID:       id,
		Dir:      dir,
		lockPath: filepath.Join(dir, LockName),
		logger:   m.logger.With().Str(logging.FieldSessionID, id).Logger(),
	}
	if err := m.acquire(s.lockPath); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	s.logger.Info().Str(logging.FieldPath, dir).Msg("session started")
	return s, nil
}

// acquire writes the lock unless a live one is already present.
func (m *Manager) acquire(path string) error {
	if lock, err := ReadLock(path); err == nil {
		if m.now().Sub(lock.Created) < m.opts.LockStaleAfter {
			return fmt.Errorf("%w: held by pid %d", ErrLocked, lock.PID)
		}
		m.logger.Warn().Int("pid", lock.PID).Str(logging.FieldPath, path).Msg("replacing stale lock")
	}

	data := strconv.Itoa(os.Getpid()) + "\n" + m.now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := renameio.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Path joins name onto the session directory.
func (s *Session) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// LockPath returns the lock file location.
func (s *Session) LockPath() string { return s.lockPath }

// Release removes the lock. It is safe to call more than once.
func (s *Session) Release() error {
	var err error
	s.once.Do(func() {
		if rmErr := os.Remove(s.lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("remove lock file: %w", rmErr)
			return
		}
		s.logger.Debug().Msg("session lock released")
	})
	return err
}

// WriteJSON atomically writes v as indented JSON to name inside the
// session directory.
func (s *Session) WriteJSON(name string, v any) error {
	pendingFile, err := renameio.NewPendingFile(s.Path(name))
	if err != nil {
		return fmt.Errorf("create pending %s: %w", name, err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending file")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", name, err)
	}
	return nil
}

// Lock is the parsed content of a lock file.
type Lock struct {
	PID     int
	Created time.Time
}

// ReadLock parses the lock file at path. A missing or unparsable
// timestamp falls back to the file's modification time.
func ReadLock(path string) (Lock, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Lock{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Lock{}, err
	}

	lock := Lock{Created: info.ModTime()}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if pid, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
		lock.PID = pid
	}
	if len(lines) > 1 {
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(lines[1])); err == nil {
			lock.Created = ts
		}
	}
	return lock, nil
}
