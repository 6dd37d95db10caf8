package executor

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// baseDirs returns the sandbox roots a path argument must resolve under:
// the user's home, the OS temp dir, and the process working directory
// (§4.4 "Path arguments").
func baseDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}
	tmp := os.TempDir()

	var dirs []string
	for _, d := range []string{home, tmp, wd} {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}

// resolvePath validates a path argument against the sandbox (§4.4): resolve
// to absolute, reject anything that normalizes outside every allowed base
// directory.
func resolvePath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errPathEmpty
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	dirs, err := baseDirs()
	if err != nil {
		return "", err
	}
	for _, base := range dirs {
		if abs == base || strings.HasPrefix(abs, base+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", errPathOutsideSandbox
}

var (
	errPathEmpty          = pathError("empty path")
	errPathOutsideSandbox = pathError("path resolves outside the allowed sandbox")
)

type pathError string

func (e pathError) Error() string { return string(e) }

var privateHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var rfc1918 = []*net.IPNet{
	mustCIDR("10.0.0.0/8"),
	mustCIDR("172.16.0.0/12"),
	mustCIDR("192.168.0.0/16"),
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// validateURL enforces §4.4's "URL arguments" checks: scheme allow-list,
// localhost/loopback/RFC1918 denial.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return urlError("scheme must be http or https")
	}
	host := u.Hostname()
	if privateHosts[strings.ToLower(host)] {
		return urlError("host is a loopback address")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range rfc1918 {
			if n.Contains(ip) {
				return urlError("host is in an RFC1918 private range")
			}
		}
	}
	return nil
}

type urlError string

func (e urlError) Error() string { return string(e) }

const maxShellCommandLen = 500

// dangerousShellPatterns matches destructive operations regardless of which
// allow-listed verb the command otherwise starts with (§4.4).
var dangerousShellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)remove-item.*-recurse`),
	regexp.MustCompile(`(?i)\bformat(\s+[a-z]:|-volume\b)`),
	regexp.MustCompile(`(?i)reg\s+(add|delete)`),
	regexp.MustCompile(`(?i)\bnet\s+user\b`),
	regexp.MustCompile(`(?i)\btakeown\b`),
	regexp.MustCompile(`(?i)\bicacls\b.*\bgrant\b`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\bbcdedit\b`),
	regexp.MustCompile(`(?i)\bsfc\b.*\bscannow\b`),
	regexp.MustCompile(`(?i)\bcipher\b.*\/w`),
	regexp.MustCompile(`(?i)\battrib\b`),
	regexp.MustCompile("[|;`]|\\$\\(|&&"),
}

// allowedShellVerbs are the read-only PowerShell verbs/cmdlets a command may
// begin with (§4.4).
var allowedShellVerbs = []string{
	"get-", "dir", "ls", "echo", "write-output", "select-", "where-object",
	"measure-object", "sort-object", "format-", "out-string", "test-path",
	"get-content", "get-childitem", "get-process", "get-service", "get-date",
	"get-location", "[datetime]", "[math]",
}

// validateShellCommand enforces §4.4's "Shell command arguments" checks.
func validateShellCommand(cmd string) error {
	if len(cmd) > maxShellCommandLen {
		return commandError("command exceeds maximum length")
	}
	for _, pat := range dangerousShellPatterns {
		if pat.MatchString(cmd) {
			return commandError("command matches a denied pattern")
		}
	}
	trimmed := strings.ToLower(strings.TrimSpace(cmd))
	for _, verb := range allowedShellVerbs {
		if strings.HasPrefix(trimmed, verb) {
			return nil
		}
	}
	return commandError("command does not begin with an allowed read-only verb")
}

type commandError string

func (e commandError) Error() string { return string(e) }

// clampVolume enforces the [0, 100] range from §4.4.
func clampVolume(level float64) float64 {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

const (
	maxFileSize      = 10 * 1024 * 1024 // 10 MiB
	readTruncateSize = 1000             // bytes
)
