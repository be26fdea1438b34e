package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	return execute(), out.String()
}

func unsetenv(t *testing.T, key string) {
	t.Helper()
	if v, ok := os.LookupEnv(key); ok {
		os.Unsetenv(key)
		t.Cleanup(func() { os.Setenv(key, v) })
	}
}

func TestVersionCommand(t *testing.T) {
	code, out := runCLI(t, "version")
	if code != exitSuccess {
		t.Errorf("exit = %d, want %d", code, exitSuccess)
	}
	if !strings.Contains(out, "easyalarm version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand_InvalidConfigExitCode(t *testing.T) {
	unsetenv(t, "DATABASE_URL")

	code, _ := runCLI(t, "validate")
	if code != exitInvalidConfig {
		t.Errorf("exit = %d, want %d", code, exitInvalidConfig)
	}
}

func TestValidateCommand_Valid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/easyalarm")
	t.Setenv("STREAM_TOKEN_SECRET", "0123456789abcdef0123")

	code, out := runCLI(t, "validate")
	if code != exitSuccess {
		t.Fatalf("exit = %d, want %d", code, exitSuccess)
	}
	if !strings.Contains(out, "configuration valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db/alarms")

	code, out := runCLI(t, "config")
	if code != exitSuccess {
		t.Fatalf("exit = %d, want %d", code, exitSuccess)
	}
	if strings.Contains(out, "hunter2") || !strings.Contains(out, "postgres://***") {
		t.Errorf("output = %s", out)
	}
}

func TestUnknownCommandIsRuntimeError(t *testing.T) {
	code, _ := runCLI(t, "launch")
	if code != exitRuntimeError {
		t.Errorf("exit = %d, want %d", code, exitRuntimeError)
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("bad value")
	err := invalidConfig(cause)

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != exitInvalidConfig {
		t.Fatalf("invalidConfig = %#v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("exitError should unwrap to its cause")
	}
}
