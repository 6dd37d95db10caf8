// Package executor implements the FunctionExecutor (§4.4): the three gates
// (policy, validation, confirmation) a tool call must clear before its side
// effect runs, plus the side effects themselves for the functions the
// catalog lists.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/aria-voice/aria-core/pkg/catalog"
	"github.com/aria-voice/aria-core/pkg/clock"
	"github.com/aria-voice/aria-core/pkg/session"
)

const (
	processTimeout = 30 * time.Second
	stdoutTruncate = 5000
	stderrTruncate = 1000
)

// WindowManager is the thin interface to the desktop shell's window
// management, out of scope for this module (§1 Non-goals) and supplied by
// the embedding application.
type WindowManager interface {
	Apply(ctx context.Context, title, action string) error
}

// VolumeController is the thin interface to the host's audio mixer, out of
// scope for this module (§1 Non-goals: "audio device plumbing").
type VolumeController interface {
	Set(ctx context.Context, level float64) error
}

// Executor runs catalog functions through the three gates from §4.4 and
// performs their side effects.
type Executor struct {
	catalog catalog.Catalog
	policy  Policy
	confirm ConfirmFunc
	clock   clock.Clock
	logger  session.Logger

	windows WindowManager
	volume  VolumeController

	mu      sync.Mutex
	pending map[string]chan bool
}

// Option configures an Executor at construction time.
type Option func(*Executor)

func WithConfirm(f ConfirmFunc) Option       { return func(e *Executor) { e.confirm = f } }
func WithClock(c clock.Clock) Option         { return func(e *Executor) { e.clock = c } }
func WithLogger(l session.Logger) Option     { return func(e *Executor) { e.logger = l } }
func WithWindowManager(w WindowManager) Option { return func(e *Executor) { e.windows = w } }
func WithVolumeController(v VolumeController) Option {
	return func(e *Executor) { e.volume = v }
}

// New builds an Executor over the given catalog and policy.
func New(cat catalog.Catalog, policy Policy, opts ...Option) *Executor {
	e := &Executor{
		catalog: cat,
		policy:  policy,
		clock:   clock.System{},
		logger:  session.NoOpLogger{},
		pending: make(map[string]chan bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the three gates in order and, on success, performs the named
// function's side effect (§4.4).
func (e *Executor) Execute(ctx context.Context, name string, arguments map[string]any) (any, error) {
	if err := e.policyGate(name); err != nil {
		return nil, err
	}

	fn, _ := e.catalog.Lookup(name)
	if err := fn.Validate(arguments); err != nil {
		return nil, newError(CodeInvalidArguments, name, err)
	}
	if err := e.safetyChecks(name, arguments); err != nil {
		return nil, err
	}

	if e.policy.needsConfirmation(name) {
		if !e.awaitConfirmation(ctx, name, arguments) {
			return nil, newError(CodeNotApproved, name, nil)
		}
	}

	result, err := e.perform(ctx, name, arguments)
	e.logger.Info("executor: ran function", "name", name, "arguments", sanitize(arguments), "error", err)
	if err != nil {
		return nil, newError(CodeExecutionFailed, name, err)
	}
	return result, nil
}

func (e *Executor) policyGate(name string) error {
	if e.policy.isBlocked(name) {
		return newError(CodeBlocked, name, nil)
	}
	if _, ok := e.catalog.Lookup(name); !ok {
		return newError(CodeUnknownFunction, name, nil)
	}
	return nil
}

// safetyChecks applies the per-function checks from §4.4's validation gate
// beyond plain schema validation.
func (e *Executor) safetyChecks(name string, args map[string]any) error {
	switch name {
	case "open_file", "list_files", "search_files":
		if p, ok := args["path"].(string); ok {
			if _, err := resolvePath(p); err != nil {
				return newError(CodePathDenied, name, err)
			}
		}
	case "create_file":
		p, _ := args["path"].(string)
		if _, err := resolvePath(p); err != nil {
			return newError(CodePathDenied, name, err)
		}
		if content, ok := args["content"].(string); ok && len(content) > maxFileSize {
			return newError(CodePathDenied, name, fmt.Errorf("content exceeds %d bytes", maxFileSize))
		}
	case "read_file", "delete_file":
		p, _ := args["path"].(string)
		if _, err := resolvePath(p); err != nil {
			return newError(CodePathDenied, name, err)
		}
	case "move_file":
		src, _ := args["source"].(string)
		dst, _ := args["destination"].(string)
		if _, err := resolvePath(src); err != nil {
			return newError(CodePathDenied, name, err)
		}
		if _, err := resolvePath(dst); err != nil {
			return newError(CodePathDenied, name, err)
		}
	case "open_url":
		u, _ := args["url"].(string)
		if err := validateURL(u); err != nil {
			return newError(CodeUrlDenied, name, err)
		}
	case "run_shell_command":
		cmd, _ := args["command"].(string)
		if err := validateShellCommand(cmd); err != nil {
			return newError(CodeCommandDenied, name, err)
		}
	case "launch_app":
		appName, _ := args["name"].(string)
		if _, ok := catalog.AppWhitelist[appName]; !ok {
			return newError(CodeAppDenied, name, fmt.Errorf("%q is not a whitelisted application", appName))
		}
	case "manage_window":
		action, _ := args["action"].(string)
		switch action {
		case "minimize", "maximize", "close", "focus":
		default:
			return newError(CodeInvalidArguments, name, fmt.Errorf("unknown window action %q", action))
		}
	}
	return nil
}

// awaitConfirmation registers a pending confirmation, notifies the external
// channel and blocks until Resolve is called for this id or ctx is done.
// Defaults to deny when no channel is registered (§4.4, §5).
func (e *Executor) awaitConfirmation(ctx context.Context, name string, args map[string]any) bool {
	if e.confirm == nil {
		return false
	}

	id := uuid.NewString()
	ch := make(chan bool, 1)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	e.confirm(ctx, id, name, args, describe(name, args))

	select {
	case approved := <-ch:
		return approved
	case <-ctx.Done():
		return false
	}
}

// Resolve answers a pending confirmation by id; it is a no-op if the id is
// unknown or was already resolved — each key is resolved at most once
// (§4.4 "pending-confirmation map").
func (e *Executor) Resolve(id string, approved bool) bool {
	e.mu.Lock()
	ch, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	return true
}

// perform runs the named function's side effect. Path/URL/command/app
// arguments have already passed the safety checks.
func (e *Executor) perform(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "launch_app":
		return e.launchApp(ctx, args["name"].(string))
	case "open_file":
		return e.openFile(ctx, args["path"].(string))
	case "open_url":
		return e.openURL(ctx, args["url"].(string))
	case "run_shell_command":
		return e.runShellCommand(ctx, args["command"].(string))
	case "query_system_state":
		return e.querySystemState(ctx)
	case "query_time":
		return e.clock.Now().Format(time.RFC3339), nil
	case "list_files":
		return listFiles(args["path"].(string))
	case "create_file":
		return createFile(args["path"].(string), args["content"].(string))
	case "read_file":
		return readFile(args["path"].(string))
	case "delete_file":
		return deleteFile(args["path"].(string))
	case "move_file":
		return moveFile(args["source"].(string), args["destination"].(string))
	case "search_files":
		return searchFiles(args["path"].(string), args["pattern"].(string))
	case "manage_window":
		if e.windows == nil {
			return nil, fmt.Errorf("no window manager configured")
		}
		title, _ := args["title"].(string)
		action, _ := args["action"].(string)
		return nil, e.windows.Apply(ctx, title, action)
	case "set_volume":
		if e.volume == nil {
			return nil, fmt.Errorf("no volume controller configured")
		}
		level, _ := toFloat(args["level"])
		clamped := clampVolume(level)
		return clamped, e.volume.Set(ctx, clamped)
	default:
		return nil, fmt.Errorf("no side effect registered for %s", name)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (e *Executor) launchApp(ctx context.Context, name string) (any, error) {
	bin := catalog.AppWhitelist[name]
	cctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, bin)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return fmt.Sprintf("launched %s", name), nil
}

func (e *Executor) openFile(ctx context.Context, path string) (any, error) {
	abs, _ := resolvePath(path)
	cctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(cctx, "open", abs)
	case "windows":
		cmd = exec.CommandContext(cctx, "cmd", "/c", "start", "", abs)
	default:
		cmd = exec.CommandContext(cctx, "xdg-open", abs)
	}
	return nil, cmd.Start()
}

func (e *Executor) openURL(ctx context.Context, rawURL string) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(cctx, "open", rawURL)
	case "windows":
		cmd = exec.CommandContext(cctx, "cmd", "/c", "start", "", rawURL)
	default:
		cmd = exec.CommandContext(cctx, "xdg-open", rawURL)
	}
	return nil, cmd.Start()
}

// runShellCommand runs an already-validated read-only command with the 30s
// process timeout and output truncation from §4.4.
func (e *Executor) runShellCommand(ctx context.Context, command string) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "powershell", "-Command"
	}
	cmd := exec.CommandContext(cctx, shell, flag, command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := truncate(stdout.String(), stdoutTruncate)
	errOut := truncate(stderr.String(), stderrTruncate)

	return map[string]any{"stdout": out, "stderr": errOut}, runErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (e *Executor) querySystemState(ctx context.Context) (any, error) {
	result := map[string]any{}

	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		result["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		result["memory_total"] = vm.Total
		result["memory_used_percent"] = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		result["disk_total"] = du.Total
		result["disk_used_percent"] = du.UsedPercent
	}
	return result, nil
}

func listFiles(path string) (any, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	return names, nil
}

func createFile(path, content string) (any, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"path": abs, "bytes_written": len(content)}, nil
}

func readFile(path string) (any, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file exceeds maximum readable size")
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, readTruncateSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	content := string(buf[:n])
	if info.Size() > readTruncateSize {
		content += "..."
	}
	return map[string]any{"content": content, "true_size": info.Size()}, nil
}

func deleteFile(path string) (any, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(abs); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": abs}, nil
}

func moveFile(src, dst string) (any, error) {
	absSrc, err := resolvePath(src)
	if err != nil {
		return nil, err
	}
	absDst, err := resolvePath(dst)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return nil, err
	}
	return map[string]any{"from": absSrc, "to": absDst}, nil
}

func searchFiles(root, pattern string) (any, error) {
	absRoot, err := resolvePath(root)
	if err != nil {
		return nil, err
	}
	var matches []string
	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// sanitize strips large or sensitive-looking values before logging
// arguments (§4.4: "all executions are logged with name and sanitized
// arguments").
func sanitize(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > 200 {
			out[k] = s[:200] + "...(truncated)"
			continue
		}
		out[k] = v
	}
	return out
}
