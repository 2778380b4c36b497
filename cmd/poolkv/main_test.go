package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// poolkv runs the command against dir and returns the exit code and output.
func poolkv(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--engine=stree", "--path=" + dir, "--create_if_missing"}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	code, out, errOut := poolkv(t, dir, args...)
	if code != 0 {
		t.Fatalf("poolkv %v: exit %d, stderr: %s", args, code, errOut)
	}
	return out
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "put", "name", "alice")

	if out := mustRun(t, dir, "get", "name"); out != "alice\n" {
		t.Errorf("get = %q, want %q", out, "alice\n")
	}

	mustRun(t, dir, "delete", "name")

	code, _, errOut := poolkv(t, dir, "get", "name")
	if code != 1 {
		t.Fatalf("get after delete: exit %d, want 1", code)
	}
	if !strings.Contains(errOut, "NOT_FOUND") {
		t.Errorf("stderr = %q, want NOT_FOUND", errOut)
	}

	code, _, errOut = poolkv(t, dir, "delete", "name")
	if code != 1 || !strings.Contains(errOut, "NOT_FOUND") {
		t.Errorf("delete missing: exit %d, stderr %q", code, errOut)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for i := range 10 {
		mustRun(t, dir, "put", fmt.Sprintf("key%02d", i), fmt.Sprintf("value%02d", i))
	}

	out := mustRun(t, dir, "scan")
	if !strings.Contains(out, "key00 => value00") || !strings.Contains(out, "key09 => value09") {
		t.Errorf("scan output missing records:\n%s", out)
	}
	if !strings.Contains(out, "(10 entries scanned)") {
		t.Errorf("scan output missing count:\n%s", out)
	}
	if strings.Index(out, "key03") > strings.Index(out, "key04") {
		t.Errorf("scan output not ordered:\n%s", out)
	}

	out = mustRun(t, dir, "--from=key02", "--to=key06", "scan")
	if !strings.Contains(out, "(3 entries scanned)") {
		t.Errorf("bounded scan:\n%s", out)
	}
	if strings.Contains(out, "key02 =>") || strings.Contains(out, "key06 =>") {
		t.Errorf("bounded scan includes its bounds:\n%s", out)
	}

	out = mustRun(t, dir, "--limit=4", "scan")
	if !strings.Contains(out, "(4 entries scanned)") {
		t.Errorf("limited scan:\n%s", out)
	}

	out = mustRun(t, dir, "--from=key07", "scan")
	if !strings.Contains(out, "(2 entries scanned)") {
		t.Errorf("scan above:\n%s", out)
	}
}

func TestCountAndInfo(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "put", "a", "1")
	mustRun(t, dir, "put", "b", "2")

	if out := mustRun(t, dir, "count"); out != "2\n" {
		t.Errorf("count = %q, want 2", out)
	}

	mustRun(t, dir, "defrag")

	out := mustRun(t, dir, "info")
	for _, want := range []string{"engine:              stree", "records:             2", "sorted:              true"} {
		if !strings.Contains(out, want) {
			t.Errorf("info missing %q:\n%s", want, out)
		}
	}
}

func TestHexInputOutput(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "put", "0x00ff", "0x0102")

	if out := mustRun(t, dir, "get", "0x00ff"); out != "0x0102\n" {
		t.Errorf("get = %q, want non-printable value as hex", out)
	}
	if out := mustRun(t, dir, "--hex", "scan"); !strings.Contains(out, "00ff => 0102") {
		t.Errorf("--hex scan:\n%s", out)
	}
}

func TestJSONConfig(t *testing.T) {
	dir := t.TempDir()
	doc := fmt.Sprintf(`{"path": %q, "create_if_missing": 1, "compression": "snappy"}`, dir)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--engine=lsm", "--json=" + doc, "put", "k", "v"}, &stdout, &stderr); code != 0 {
		t.Fatalf("put: exit %d, stderr: %s", code, stderr.String())
	}
	stdout.Reset()
	if code := run([]string{"--engine=lsm", "--json=" + doc, "get", "k"}, &stdout, &stderr); code != 0 {
		t.Fatalf("get: exit %d, stderr: %s", code, stderr.String())
	}
	if stdout.String() != "v\n" {
		t.Errorf("get = %q", stdout.String())
	}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no command", nil, 2, "Usage"},
		{"unknown command", []string{"frobnicate"}, 1, "unknown command"},
		{"missing argument", []string{"get"}, 1, "takes 1 argument"},
		{"extra argument", []string{"put", "a", "b", "c"}, 1, "takes 2 argument"},
		{"bad flag", []string{"--nope", "count"}, 2, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := poolkv(t, dir, tt.args...)
			if code != tt.code {
				t.Errorf("exit %d, want %d", code, tt.code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want %q", errOut, tt.want)
			}
		})
	}
}

func TestWrongEngine(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--engine=nosuch", "count"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "WRONG_ENGINE_NAME") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestMissingPool(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--engine=stree", "--path=" + t.TempDir() + "/absent", "count"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
}
