package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aria-voice/aria-core/pkg/catalog"
)

func newTestExecutor(opts ...Option) *Executor {
	cat := catalog.Catalog{}
	for k, v := range catalog.Default {
		cat[k] = v
	}
	policy := NewPolicy(catalog.DefaultBlocked, catalog.DefaultRequireConfirmation)
	return New(cat, policy, opts...)
}

func TestPolicyGateRejectsBlocked(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "access_credentials", nil)
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeBlocked {
		t.Errorf("expected blocked, got %v", err)
	}
}

func TestPolicyGateRejectsUnknown(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "not_a_function", nil)
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeUnknownFunction {
		t.Errorf("expected unknown_function, got %v", err)
	}
}

func TestValidationGateRejectsBadArguments(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "set_volume", map[string]any{})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeInvalidArguments {
		t.Errorf("expected invalid_arguments, got %v", err)
	}
}

func TestPathSandboxDeniesEscape(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "read_file", map[string]any{"path": "/etc/shadow"})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodePathDenied {
		t.Errorf("expected path_denied for an out-of-sandbox path, got %v", err)
	}
}

func TestPathSandboxAllowsTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	os.Setenv("TMPDIR", dir)

	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "create_file", map[string]any{"path": path, "content": "hi"})
	if err != nil {
		t.Fatalf("expected create_file under an allowed base dir to succeed, got %v", err)
	}
}

func TestReadFileTruncatesWithEllipsisPastBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	os.Setenv("TMPDIR", dir)

	full := strings.Repeat("a", 1500)
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}

	e := newTestExecutor()
	result, err := e.Execute(context.Background(), "read_file", map[string]any{"path": path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", result)
	}
	content, _ := m["content"].(string)
	if !strings.HasSuffix(content, "...") {
		t.Errorf("expected truncated content to end with an ellipsis marker, got %q", content)
	}
	if len(content) != readTruncateSize+len("...") {
		t.Errorf("expected %d bytes plus ellipsis, got %d", readTruncateSize, len(content))
	}
	if m["true_size"] != int64(1500) {
		t.Errorf("expected reported true_size to equal the real file size, got %v", m["true_size"])
	}
}

func TestUrlDeniesLoopback(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "open_url", map[string]any{"url": "http://127.0.0.1:8080/admin"})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeUrlDenied {
		t.Errorf("expected url_denied for a loopback host, got %v", err)
	}
}

func TestShellCommandDeniesNonAllowlistedVerb(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "run_shell_command", map[string]any{"command": "Remove-Item C:\\ -Recurse"})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeCommandDenied {
		t.Errorf("expected command_denied, got %v", err)
	}
}

func TestLaunchAppDeniesUnknownApp(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), "launch_app", map[string]any{"name": "definitely-not-an-app"})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeAppDenied {
		t.Errorf("expected app_denied, got %v", err)
	}
}

func TestConfirmationDefaultsToDenyWithoutChannel(t *testing.T) {
	e := newTestExecutor()
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	os.Setenv("TMPDIR", dir)

	_, err := e.Execute(context.Background(), "delete_file", map[string]any{"path": path})
	var execErr *Error
	if !asError(err, &execErr) || execErr.Code != CodeNotApproved {
		t.Errorf("expected not_approved with no confirmation channel registered, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("expected file to still exist after a denied delete, got stat error: %v", statErr)
	}
}

func TestConfirmationApprovedRunsSideEffect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	os.Setenv("TMPDIR", dir)

	var executor *Executor
	executor = newTestExecutor(WithConfirm(func(ctx context.Context, id, name string, args map[string]any, description string) {
		go executor.Resolve(id, true)
	}))

	_, err := executor.Execute(context.Background(), "delete_file", map[string]any{"path": path})
	if err != nil {
		t.Fatalf("expected delete to succeed once approved, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("expected file to be deleted")
	}
}

func TestVolumeClamping(t *testing.T) {
	var got float64
	e := newTestExecutor(WithVolumeController(volumeFunc(func(ctx context.Context, level float64) error {
		got = level
		return nil
	})))

	if _, err := e.Execute(context.Background(), "set_volume", map[string]any{"level": 150}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Errorf("expected volume clamped to 100, got %v", got)
	}
}

type volumeFunc func(ctx context.Context, level float64) error

func (f volumeFunc) Set(ctx context.Context, level float64) error { return f(ctx, level) }

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
