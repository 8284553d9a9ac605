package endpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_MirrorsStructure(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"users": {
			"list": {"path": "/users", "method": "GET"},
			"get": {"path": "/users/:id", "method": "get"},
			"posts": {
				"create": {"path": "/users/:id/posts", "method": "POST"}
			}
		},
		"health": {"path": "/health", "method": "GET"}
	}`), &raw))

	tree, issues := FromMap(raw)
	assert.Empty(t, issues)

	users, ok := tree["users"].(Group)
	require.True(t, ok)
	assert.Len(t, users, 3)
	assert.Equal(t, Definition{Path: "/users/:id", Method: "GET"}, users["get"])

	posts, ok := users["posts"].(Group)
	require.True(t, ok)
	assert.Equal(t, Post("/users/:id/posts"), posts["create"])
	assert.Equal(t, Get("/health"), tree["health"])
}

func TestFromMap_SkipsInvalidBranches(t *testing.T) {
	raw := map[string]any{
		"ok":        map[string]any{"path": "/ok", "method": "GET"},
		"badTypes":  map[string]any{"path": 12, "method": "GET"},
		"notObject": "nope",
		"badMethod": map[string]any{"path": "/x", "method": "TRACE"},
		"nested": map[string]any{
			"broken": []any{1, 2},
			"fine":   map[string]any{"path": "/fine", "method": "DELETE"},
		},
	}

	tree, issues := FromMap(raw)
	require.Len(t, issues, 4)
	assert.Contains(t, tree, "ok")
	assert.NotContains(t, tree, "badTypes")
	assert.NotContains(t, tree, "notObject")
	assert.NotContains(t, tree, "badMethod")

	nested := tree["nested"].(Group)
	assert.Contains(t, nested, "fine")
	assert.NotContains(t, nested, "broken")

	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	assert.ElementsMatch(t, []string{"badTypes", "notObject", "badMethod", "nested.broken"}, paths)
	assert.Error(t, issues.Err())
}

func TestFromMap_GroupWithLeafKeysIsLeaf(t *testing.T) {
	raw := map[string]any{
		"odd": map[string]any{
			"path":   "/odd",
			"method": "GET",
			"child":  map[string]any{"path": "/child", "method": "GET"},
		},
	}
	tree, issues := FromMap(raw)
	assert.Empty(t, issues)
	assert.Equal(t, Get("/odd"), tree["odd"])
}

func TestFromMap_GroupsNamedPathAndMethod(t *testing.T) {
	raw := map[string]any{
		"meta": map[string]any{
			"path":   map[string]any{"get": map[string]any{"path": "/p", "method": "GET"}},
			"method": map[string]any{"get": map[string]any{"path": "/m", "method": "GET"}},
		},
	}
	tree, issues := FromMap(raw)
	assert.Empty(t, issues)
	meta := tree["meta"].(Group)
	assert.Equal(t, Get("/p"), meta["path"].(Group)["get"])
	assert.Equal(t, Get("/m"), meta["method"].(Group)["get"])
}

func TestValidate_TypedTree(t *testing.T) {
	in := Group{
		"a":     Definition{Path: "/a", Method: "patch"},
		"empty": Definition{Method: "GET"},
		"g":     Group{"b": Put("/b")},
		"nil":   nil,
	}
	out, issues := Validate(in)
	assert.Len(t, issues, 2)
	assert.Equal(t, Patch("/a"), out["a"])
	assert.Equal(t, Put("/b"), out["g"].(Group)["b"])
	assert.NoError(t, Issues(nil).Err())
}

func TestDefinition_Placeholders(t *testing.T) {
	d := Get("/orgs/:org/users/:id/:org")
	assert.Equal(t, []string{"org", "id"}, d.Placeholders())
	assert.True(t, Post("/x").HasBody())
	assert.False(t, Delete("/x").HasBody())
}

func TestLeaves(t *testing.T) {
	tree := Group{
		"b": Group{"z": Get("/z"), "a": Post("/a")},
		"a": Delete("/d"),
	}
	leaves := Leaves(tree)
	require.Len(t, leaves, 3)
	assert.Equal(t, "a", leaves[0].DottedName())
	assert.Equal(t, "b.a", leaves[1].DottedName())
	assert.Equal(t, "b.z", leaves[2].DottedName())
}

func TestParseManifest(t *testing.T) {
	data := []byte(`
version: 1.2.0
base: https://api.example.com/v1
timeout: 5s
headers:
  X-Client: apitree
endpoints:
  users:
    get: {path: /users/:id, method: GET}
    bad: 12
`)
	m, issues, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", m.Version)
	assert.Equal(t, "https://api.example.com/v1", m.Base)
	assert.Equal(t, 5*time.Second, m.Timeout)
	assert.Equal(t, "apitree", m.Headers["X-Client"])
	require.Len(t, issues, 1)
	assert.Equal(t, "endpoints.users.bad", issues[0].Path)
	assert.Equal(t, Get("/users/:id"), m.Endpoints["users"].(Group)["get"])
}

func TestParseManifest_JSONAndBadVersion(t *testing.T) {
	m, issues, err := ParseManifest([]byte(`{"version": "one", "endpoints": {"ping": {"path": "/ping", "method": "GET"}}}`))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "version", issues[0].Path)
	assert.Contains(t, m.Endpoints, "ping")
}

func TestParseManifest_MissingEndpoints(t *testing.T) {
	_, _, err := ParseManifest([]byte(`base: https://x`))
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  ping: {path: /ping, method: GET}\n"), 0o600))

	m, issues, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, Get("/ping"), m.Endpoints["ping"])

	_, _, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
