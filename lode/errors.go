package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for archive failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPermissionDenied indicates a local permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path or bucket does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates missing or rejected credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates valid credentials without permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrUnclassified is the kind of every error no rule matches.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an underlying error with its classification.
type StorageError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed: "put", "write", "read" or "init".
	Op string
	// Path is the storage path or dataset involved, if any.
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func wrap(op string, err error, path string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// WrapPutError classifies a payload file write failure.
func WrapPutError(err error, path string) error { return wrap("put", err, path) }

// WrapWriteError classifies a dataset write failure.
func WrapWriteError(err error, path string) error { return wrap("write", err, path) }

// WrapReadError classifies a dataset read failure.
func WrapReadError(err error, path string) error { return wrap("read", err, path) }

// WrapInitError classifies an archive initialization failure.
func WrapInitError(err error, dataset string) error { return wrap("init", err, dataset) }

// classifyRules are checked in order; the first rule with a matching
// pattern wins. Access denied precedes permission denied so S3 403s are
// not reported as local permission errors.
var classifyRules = []struct {
	kind     error
	patterns []string
}{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces", "access denied"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dns", "dial tcp"}},
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, p := range rule.patterns {
			if strings.Contains(msg, p) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}
