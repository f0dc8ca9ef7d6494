package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeCheckFixture(t *testing.T, executorKeys []string) string {
	t.Helper()
	dir := t.TempDir()

	registryPath := filepath.Join(dir, "registry.yaml")
	registryYAML := `
commands:
  SCAN_SITE:
    severity: low
    params:
      - name: domain
        kind: string
        required: true
  PUBLISH_REPORT:
    severity: medium
    params:
      - name: dataset
        kind: string
        required: true
`
	if err := os.WriteFile(registryPath, []byte(registryYAML), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	var executors strings.Builder
	for _, key := range executorKeys {
		executors.WriteString("    " + key + ":\n      endpoint: http://localhost:9001/execute\n")
	}
	configYAML := `
registry:
  path: ` + registryPath + `
ledger:
  signing_secret: check-secret
dispatch:
  executors:
` + executors.String()

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func TestConfigCheckAcceptsLowercaseExecutorKeys(t *testing.T) {
	configPath := writeCheckFixture(t, []string{"scan_site", "publish_report"})

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})

	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if strings.Contains(stderr, "no executor configured") {
		t.Errorf("lowercase executor keys produced a false warning: %s", stderr)
	}
	if !strings.Contains(stdout, "config ok: 2 command types") {
		t.Errorf("unexpected stdout: %s", stdout)
	}
}

func TestConfigCheckWarnsMissingExecutor(t *testing.T) {
	configPath := writeCheckFixture(t, []string{"scan_site"})

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})

	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, "no executor configured for PUBLISH_REPORT") {
		t.Errorf("missing executor not reported: %s", stderr)
	}
	if strings.Contains(stderr, "SCAN_SITE") {
		t.Errorf("configured executor falsely reported: %s", stderr)
	}
}

func TestConfigCheckRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: warden\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})

	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "Config invalid") {
		t.Errorf("unexpected stderr: %s", stderr)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})

	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "Unknown command") {
		t.Errorf("unexpected stderr: %s", stderr)
	}
}
