package config

import (
	"testing"
)

func TestExpandEnv_SetVar(t *testing.T) {
	t.Setenv("FB_TEST_VAR", "hello")

	got := ExpandEnv("value: ${FB_TEST_VAR}")
	want := "value: hello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_UnsetVar(t *testing.T) {
	got := ExpandEnv("value: ${UNSET_VAR_12345}")
	want := "value: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_DefaultUsedWhenUnset(t *testing.T) {
	got := ExpandEnv("value: ${UNSET_VAR_12345:-fallback}")
	want := "value: fallback"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_DefaultIgnoredWhenSet(t *testing.T) {
	t.Setenv("FB_TEST_VAR", "real")

	got := ExpandEnv("value: ${FB_TEST_VAR:-fallback}")
	want := "value: real"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_DefaultUsedWhenEmpty(t *testing.T) {
	t.Setenv("FB_TEST_VAR", "")

	got := ExpandEnv("value: ${FB_TEST_VAR:-fallback}")
	want := "value: fallback"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_MultipleVars(t *testing.T) {
	t.Setenv("FB_HOST", "127.0.0.1")
	t.Setenv("FB_PORT", "8765")

	got := ExpandEnv("listen: ${FB_HOST}:${FB_PORT}")
	want := "listen: 127.0.0.1:8765"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnv_NoVars(t *testing.T) {
	input := "no variables here"
	got := ExpandEnv(input)
	if got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "abc123")
	t.Setenv("HOOK_SECRET", "secret")

	input := `adapter:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}
  secret: ${HOOK_SECRET}`

	got := ExpandEnv(input)
	want := `adapter:
  headers:
    Authorization: Bearer abc123
  secret: secret`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
