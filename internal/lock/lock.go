// Package lock keeps a single orchestrator per management console.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// ErrHeld is returned when another instance owns the lock.
var ErrHeld = errors.New("another orchestrator instance holds the lock")

var unsafeChars = regexp.MustCompile(`[^\w\-.]`)

// sanitize turns a console address into a safe file name.
func sanitize(name string) string {
	s := strings.NewReplacer("/", "--", "\\", "--", ":", "--").Replace(name)
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, ".-")
	if s == "" {
		s = "default"
	}
	return s
}

// InstanceLock is an advisory file lock plus an owner file naming the holder.
type InstanceLock struct {
	lockFile  *flock.Flock
	lockPath  string
	ownerPath string
	id        string
}

// New prepares a lock for key under dir. An empty dir uses
// $TMPDIR/resilioctl.
func New(dir, key string) (*InstanceLock, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "resilioctl")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	base := filepath.Join(dir, sanitize(key))
	return &InstanceLock{
		lockFile:  flock.New(base + ".lock"),
		lockPath:  base + ".lock",
		ownerPath: base + ".owner",
		id:        ulid.Make().String(),
	}, nil
}

// ID is the instance id written to the owner file while the lock is held.
func (l *InstanceLock) ID() string {
	return l.id
}

// TryLock acquires the lock without blocking and records the owner. It
// returns ErrHeld, with the current owner in the message, when the lock is
// taken.
func (l *InstanceLock) TryLock(name string) error {
	locked, err := l.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock: %w", err)
	}
	if !locked {
		owner, _ := os.ReadFile(l.ownerPath)
		if len(owner) > 0 {
			return fmt.Errorf("%w (%s)", ErrHeld, strings.TrimSpace(string(owner)))
		}
		return ErrHeld
	}

	owner := fmt.Sprintf("%s %s pid=%d since=%s\n", l.id, name, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(l.ownerPath, []byte(owner), 0o644); err != nil {
		_ = l.lockFile.Unlock()
		return fmt.Errorf("failed to write owner file: %w", err)
	}
	return nil
}

// Owner returns the owner line of the current holder, if any.
func (l *InstanceLock) Owner() (string, error) {
	data, err := os.ReadFile(l.ownerPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Unlock releases the lock and removes the lock and owner files.
func (l *InstanceLock) Unlock() error {
	if !l.lockFile.Locked() {
		return nil
	}
	if err := os.Remove(l.ownerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove owner file: %w", err)
	}
	if err := l.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.lockPath
}
