package updater

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vcamlab/camswitch/internal/version"
)

func TestError_CodeAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := failed(ErrApply, "apply", cause)

	var uerr *Error
	if !errors.As(err, &uerr) {
		t.Fatal("failed() should produce an *Error")
	}
	if uerr.Code != ErrApply {
		t.Errorf("Code = %q, want %q", uerr.Code, ErrApply)
	}
	if !errors.Is(err, cause) {
		t.Error("Error should unwrap to its cause")
	}
	if err.Error() != "apply: apply_failed: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestEnter_GuardsTransitions(t *testing.T) {
	u := &selfUpdater{state: StateIdle, logger: slog.Default()}

	if !u.enter(StateChecking, StateIdle, StateReady, StateFailed) {
		t.Error("idle should allow entering checking")
	}
	if u.enter(StateApplying, StateReady) {
		t.Error("checking should not allow entering applying")
	}
	if u.currentState() != StateChecking {
		t.Errorf("state = %q, want checking", u.currentState())
	}

	// Unconditional entry clears a recorded failure.
	u.fail(errors.New("boom"))
	u.enter(StateIdle)
	if status := u.GetStatus(context.Background()); status.Error != "" {
		t.Errorf("Error = %q, want cleared", status.Error)
	}
}

func TestDisabledService(t *testing.T) {
	u := &selfUpdater{state: StateIdle, disabledReason: "read-only install", logger: slog.Default()}

	if u.IsEnabled() {
		t.Fatal("service with a disabled reason should report disabled")
	}

	var uerr *Error
	if _, err := u.CheckForUpdate(context.Background()); !errors.As(err, &uerr) || uerr.Code != ErrDisabled {
		t.Errorf("CheckForUpdate error = %v, want code %q", err, ErrDisabled)
	}
	if err := u.ApplyUpdate(context.Background()); !errors.As(err, &uerr) || uerr.Code != ErrDisabled {
		t.Errorf("ApplyUpdate error = %v, want code %q", err, ErrDisabled)
	}
}

func TestRollback_WithoutBackup(t *testing.T) {
	u := &selfUpdater{state: StateIdle, logger: slog.Default()}

	var uerr *Error
	if err := u.Rollback(context.Background()); !errors.As(err, &uerr) || uerr.Code != ErrNoBackup {
		t.Errorf("Rollback error = %v, want code %q", err, ErrNoBackup)
	}
}

func TestBackupStore_SaveAndRestore(t *testing.T) {
	store := &backupStore{dir: t.TempDir(), logger: slog.Default()}

	binDir := t.TempDir()
	bin := filepath.Join(binDir, "camswitch")
	if err := os.WriteFile(bin, []byte("v1 build"), 0o755); err != nil {
		t.Fatal(err)
	}

	if store.available() {
		t.Fatal("fresh store should have no backup")
	}
	if err := store.save(bin); err != nil {
		t.Fatalf("save() failed: %v", err)
	}
	if !store.available() {
		t.Fatal("backup should be available after save")
	}
	if got := store.savedVersion(); got != version.Version {
		t.Errorf("savedVersion() = %q, want %q", got, version.Version)
	}

	// Simulate a bad update, then restore over it.
	if err := os.WriteFile(bin, []byte("broken build"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.restore(); err != nil {
		t.Fatalf("restore() failed: %v", err)
	}
	content, err := os.ReadFile(bin)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "v1 build" {
		t.Errorf("restored content = %q, want original build", content)
	}
}

func TestBackupStore_MetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store := &backupStore{dir: dir, logger: slog.Default()}

	bin := filepath.Join(t.TempDir(), "camswitch")
	if err := os.WriteFile(bin, []byte("v1 build"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.save(bin); err != nil {
		t.Fatalf("save() failed: %v", err)
	}

	reopened := &backupStore{dir: dir, logger: slog.Default()}
	reopened.meta = reopened.readMeta()
	if !reopened.available() {
		t.Error("reopened store should see the saved backup")
	}
	if got := reopened.savedVersion(); got != version.Version {
		t.Errorf("savedVersion() = %q, want %q", got, version.Version)
	}
}
