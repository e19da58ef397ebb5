// Package updater self-updates the camswitch binary from GitHub releases
// and keeps one rollback copy of the build it replaced. The daemon runs
// under systemd, so "restart" means exiting on SIGTERM and letting the
// unit bring the new binary up.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"golang.org/x/sys/unix"

	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/version"
)

// State is the updater state machine position.
type State string

// Updater states. ready means a newer release has been detected and can
// be applied; failed is left by the next successful check.
const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateReady      State = "ready"
	StateApplying   State = "applying"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
	StateRolledBack State = "rolled_back"
)

// ErrCode classifies updater failures for the API error mapping.
type ErrCode string

// Updater error codes.
const (
	ErrBusy     ErrCode = "busy"
	ErrCheck    ErrCode = "check_failed"
	ErrNoUpdate ErrCode = "no_update"
	ErrApply    ErrCode = "apply_failed"
	ErrBackup   ErrCode = "backup_failed"
	ErrRollback ErrCode = "rollback_failed"
	ErrNoBackup ErrCode = "no_backup"
	ErrDisabled ErrCode = "disabled"
)

// Error is a coded updater failure.
type Error struct {
	Code ErrCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func failed(code ErrCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// UpdateInfo is the result of a release check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes"`
	ReleaseURL      string    `json:"release_url"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status snapshots the updater for the API.
type Status struct {
	State           State     `json:"state"`
	CurrentVersion  string    `json:"current_version"`
	TargetVersion   string    `json:"target_version,omitempty"`
	Error           string    `json:"error,omitempty"`
	LastChecked     time.Time `json:"last_checked,omitzero"`
	BackupAvailable bool      `json:"backup_available"`
	BackupVersion   string    `json:"backup_version,omitempty"`
}

// Options configures the updater.
type Options struct {
	Repository string // GitHub slug, e.g. "vcamlab/camswitch"
	Prerelease bool
}

// Service is the update surface the API exposes.
type Service interface {
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)
	ApplyUpdate(ctx context.Context) error
	Rollback(ctx context.Context) error
	GetStatus(ctx context.Context) *Status
	Restart(ctx context.Context) error
	IsEnabled() bool
	DisabledReason() string
}

type selfUpdater struct {
	repo    selfupdate.Repository
	engine  *selfupdate.Updater
	backups *backupStore
	logger  *slog.Logger

	disabledReason string

	mu      sync.Mutex
	state   State
	pending *selfupdate.Release
	checked time.Time
	lastErr error
}

// New builds the updater. When the binary's directory is not writable the
// service comes up disabled instead of erroring, so the rest of the
// daemon is unaffected by a read-only install.
func New(opts Options) (Service, error) {
	logger := logging.GetLogger("updater")

	if reason := binaryWritable(); reason != "" {
		logger.Warn("Self-update disabled", "reason", reason)
		return &selfUpdater{state: StateIdle, disabledReason: reason, logger: logger}, nil
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("github source: %w", err)
	}
	engine, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("updater: %w", err)
	}

	backups, err := openBackupStore(logger)
	if err != nil {
		logger.Warn("Backup store unavailable, rollback disabled", "error", err)
	}

	return &selfUpdater{
		repo:    selfupdate.ParseSlug(opts.Repository),
		engine:  engine,
		backups: backups,
		state:   StateIdle,
		logger:  logger,
	}, nil
}

// binaryWritable returns a reason string when the running binary cannot
// be replaced in place, empty when it can.
func binaryWritable() string {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Sprintf("cannot resolve executable: %v", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Sprintf("cannot resolve executable symlink: %v", err)
	}
	dir := filepath.Dir(exe)
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Sprintf("no write access to %s: %v", dir, err)
	}
	return ""
}

func (u *selfUpdater) IsEnabled() bool        { return u.disabledReason == "" }
func (u *selfUpdater) DisabledReason() string { return u.disabledReason }

// CheckForUpdate queries the release feed and remembers a newer release
// for a later ApplyUpdate. A "dev" build is always considered outdated.
func (u *selfUpdater) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if !u.IsEnabled() {
		return nil, failed(ErrDisabled, "check", nil)
	}
	if !u.enter(StateChecking, StateIdle, StateReady, StateFailed) {
		return nil, failed(ErrBusy, "check", fmt.Errorf("updater is %s", u.currentState()))
	}

	release, found, err := u.engine.DetectLatest(ctx, u.repo)

	u.mu.Lock()
	u.checked = time.Now()
	u.mu.Unlock()

	if err != nil {
		u.fail(err)
		return nil, failed(ErrCheck, "check", err)
	}
	if !found {
		err := fmt.Errorf("no releases for %s", u.repo)
		u.fail(err)
		return nil, failed(ErrCheck, "check", err)
	}

	current := version.Version
	info := &UpdateInfo{
		CurrentVersion: current,
		LatestVersion:  release.Version(),
	}
	if current != "dev" && !release.GreaterThan(current) {
		u.enter(StateIdle)
		return info, nil
	}

	info.UpdateAvailable = true
	info.ReleaseNotes = release.ReleaseNotes
	info.ReleaseURL = release.URL
	info.PublishedAt = release.PublishedAt
	info.AssetSize = release.AssetByteSize

	u.mu.Lock()
	u.pending = release
	u.mu.Unlock()
	u.enter(StateReady)
	return info, nil
}

// ApplyUpdate backs up the running binary, replaces it with the pending
// release, and schedules a restart. On apply failure the backup is
// restored automatically.
func (u *selfUpdater) ApplyUpdate(ctx context.Context) error {
	if !u.IsEnabled() {
		return failed(ErrDisabled, "apply", nil)
	}

	if u.currentState() == StateIdle {
		info, err := u.CheckForUpdate(ctx)
		if err != nil {
			return err
		}
		if !info.UpdateAvailable {
			return failed(ErrNoUpdate, "apply", nil)
		}
	}
	if !u.enter(StateApplying, StateReady) {
		return failed(ErrBusy, "apply", fmt.Errorf("updater is %s", u.currentState()))
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		u.fail(err)
		return failed(ErrApply, "apply", err)
	}
	if u.backups != nil {
		if err := u.backups.save(exe); err != nil {
			u.fail(err)
			return failed(ErrBackup, "apply", err)
		}
	}

	u.mu.Lock()
	release := u.pending
	u.mu.Unlock()

	if err := u.engine.UpdateTo(ctx, release, exe); err != nil {
		u.fail(err)
		u.restoreBackup()
		return failed(ErrApply, "apply", err)
	}

	u.enter(StateRestarting)
	u.logger.Info("Update applied", "version", release.Version())
	u.restartSoon()
	return nil
}

// Rollback restores the backed up binary and schedules a restart.
func (u *selfUpdater) Rollback(_ context.Context) error {
	if !u.IsEnabled() {
		return failed(ErrDisabled, "rollback", nil)
	}
	if u.backups == nil || !u.backups.available() {
		return failed(ErrNoBackup, "rollback", nil)
	}
	if err := u.backups.restore(); err != nil {
		return failed(ErrRollback, "rollback", err)
	}

	u.enter(StateRolledBack)
	u.logger.Info("Rolled back to previous build", "version", u.backups.savedVersion())
	u.restartSoon()
	return nil
}

// Restart exits the daemon without updating.
func (u *selfUpdater) Restart(_ context.Context) error {
	u.logger.Info("Restart requested")
	u.restartSoon()
	return nil
}

// GetStatus snapshots the updater.
func (u *selfUpdater) GetStatus(_ context.Context) *Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	status := &Status{
		State:          u.state,
		CurrentVersion: version.Version,
		LastChecked:    u.checked,
	}
	if u.pending != nil {
		status.TargetVersion = u.pending.Version()
	}
	if u.lastErr != nil {
		status.Error = u.lastErr.Error()
	}
	if u.backups != nil {
		status.BackupAvailable = u.backups.available()
		status.BackupVersion = u.backups.savedVersion()
	}
	return status
}

// enter moves to next when the current state is one of from (or
// unconditionally with no from list). Entering a state clears lastErr.
func (u *selfUpdater) enter(next State, from ...State) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(from) > 0 {
		ok := false
		for _, s := range from {
			if u.state == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	u.logger.Debug("Updater state", "from", u.state, "to", next)
	u.state = next
	u.lastErr = nil
	return true
}

func (u *selfUpdater) currentState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *selfUpdater) fail(err error) {
	u.mu.Lock()
	u.state = StateFailed
	u.lastErr = err
	u.mu.Unlock()
}

func (u *selfUpdater) restoreBackup() {
	if u.backups == nil || !u.backups.available() {
		u.logger.Error("No backup to restore after failed apply")
		return
	}
	if err := u.backups.restore(); err != nil {
		u.logger.Error("Backup restore failed", "error", err)
		return
	}
	u.enter(StateRolledBack)
	u.logger.Info("Restored previous build after failed apply")
}

// restartSoon sends SIGTERM to our own process after a short delay so the
// HTTP response for the triggering request can still go out.
func (u *selfUpdater) restartSoon() {
	time.AfterFunc(500*time.Millisecond, func() {
		u.logger.Info("Sending SIGTERM for restart")
		if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
			u.logger.Error("Failed to signal restart", "error", err)
		}
	})
}
