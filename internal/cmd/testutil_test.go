package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/mockserver"
)

const testManifest = `version: 1.0.0
headers:
  X-Client: apitree-test
endpoints:
  users:
    list:   {path: /users, method: GET}
    get:    {path: /users/:id, method: GET}
    create: {path: /users, method: POST}
    update: {path: /users/:id, method: PATCH}
    avatar: {path: /users/:id/avatar, method: PUT}
    remove: {path: /users/:id, method: DELETE}
  ping: {path: /ping, method: GET}
`

// testEnv is a mock API server plus a manifest and a sqlite session store
// in a temp dir, wired through APITREE_* variables.
type testEnv struct {
	server   *httptest.Server
	dir      string
	manifest string
}

func clearAPITreeEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "APITREE_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupTestEnvWithManifest(t, testManifest)
}

func setupTestEnvWithManifest(t *testing.T, manifest string) *testEnv {
	t.Helper()
	clearAPITreeEnv(t)

	dir := t.TempDir()
	chdirForTest(t, dir)
	path := filepath.Join(dir, "apitree.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	m, _, err := endpoint.ParseManifest([]byte(manifest))
	if err != nil {
		t.Fatalf("invalid test manifest: %v", err)
	}

	server := httptest.NewServer(mockserver.New(m.Endpoints, mockserver.Options{Prefix: "/api"}))
	t.Cleanup(server.Close)

	t.Setenv("APITREE_ENDPOINTS", path)
	t.Setenv("APITREE_BASE_URL", server.URL+"/api")
	t.Setenv("APITREE_STORE", "sqlite")
	t.Setenv("APITREE_SQLITE_PATH", filepath.Join(dir, "session.db"))
	t.Setenv("APITREE_OUTPUT", "text")

	return &testEnv{server: server, dir: dir, manifest: path}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// captureStdout executes a function and captures its stdout output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// captureStderr executes a function and captures its stderr output.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	_ = w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// withStdin replaces os.Stdin with input for the duration of fn.
func withStdin(t *testing.T, input string, fn func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte(input), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	old := os.Stdin
	os.Stdin = f
	defer func() { os.Stdin = old }()
	fn()
}

func decodeObject(t *testing.T, output string) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		t.Fatalf("output is not a JSON object: %v\n%s", err, output)
	}
	return v
}

func decodeLines(t *testing.T, output string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		out = append(out, decodeObject(t, line))
	}
	return out
}

// chdirForTest changes the working directory to dir and restores it when the
// test finishes (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
