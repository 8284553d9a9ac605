package api

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salmonumbrella/apitree/internal/endpoint"
)

// readParts decodes a multipart body into name -> content, plus content types.
func readParts(t *testing.T, p *encodedPayload) (map[string]string, map[string]string) {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(p.contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	values := map[string]string{}
	types := map[string]string{}
	r := multipart.NewReader(bytes.NewReader(p.body), params["boundary"])
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		values[part.FormName()] = string(data)
		types[part.FormName()] = part.Header.Get("Content-Type")
	}
	return values, types
}

func TestEncodePayload_Empty(t *testing.T) {
	post := endpoint.Post("/x")
	for _, payload := range []any{nil, "", []byte{}, map[string]any{}, NewForm(""), (*File)(nil), (*struct{})(nil)} {
		p, err := encodePayload(post, payload)
		require.NoError(t, err)
		assert.False(t, p.hasBody(), "payload %T", payload)
		assert.Empty(t, p.query)
		assert.Empty(t, p.contentType)
	}
}

func TestEncodePayload_JSONBody(t *testing.T) {
	for _, def := range []endpoint.Definition{endpoint.Post("/x"), endpoint.Put("/x"), endpoint.Patch("/x")} {
		p, err := encodePayload(def, map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"x"}`, string(p.body))
		assert.Equal(t, contentTypeJSON, p.contentType)
		assert.Empty(t, p.query)
	}

	type user struct {
		Name string `json:"name"`
	}
	p, err := encodePayload(endpoint.Post("/x"), user{Name: "y"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"y"}`, string(p.body))
}

func TestEncodePayload_RawBody(t *testing.T) {
	p, err := encodePayload(endpoint.Post("/x"), `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(p.body))
	assert.Equal(t, contentTypeJSON, p.contentType)

	p, err = encodePayload(endpoint.Post("/x"), []byte("plain text"))
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(p.body))
	assert.Empty(t, p.contentType)
}

func TestEncodePayload_UnencodableJSON(t *testing.T) {
	_, err := encodePayload(endpoint.Post("/x"), map[string]any{"ch": make(chan int)})
	assert.True(t, IsValidationError(err))
}

func TestEncodePayload_Query(t *testing.T) {
	p, err := encodePayload(endpoint.Get("/x"), map[string]any{"tags": []any{"a", "b"}, "q": "hi", "skip": nil})
	require.NoError(t, err)
	assert.False(t, p.hasBody())
	assert.Equal(t, "q=hi&tags=a&tags=b", p.query.Encode())

	p, err = encodePayload(endpoint.Delete("/x"), map[string]string{"force": "true"})
	require.NoError(t, err)
	assert.False(t, p.hasBody())
	assert.Equal(t, "force=true", p.query.Encode())

	p, err = encodePayload(endpoint.Get("/x"), "?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, url.Values{"a": {"1"}, "b": {"2"}}, p.query)

	p, err = encodePayload(endpoint.Get("/x"), url.Values{"n": {"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, "n=1&n=2", p.query.Encode())

	p, err = encodePayload(endpoint.Get("/x"), map[string]any{"page": 2, "exact": true, "ratio": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "exact=true&page=2&ratio=0.5", p.query.Encode())
}

func TestEncodePayload_QueryTypedSlices(t *testing.T) {
	two := 2
	p, err := encodePayload(endpoint.Get("/x"), map[string]any{
		"ids":   []int{1, 2},
		"tags":  [2]string{"a", "b"},
		"ptrs":  []*int{&two, nil},
		"q":     "hi",
		"blob":  []byte("raw"),
		"empty": []float64{},
	})
	require.NoError(t, err)
	assert.Equal(t, "blob=raw&ids=1&ids=2&ptrs=2&q=hi&tags=a&tags=b", p.query.Encode())

	p, err = encodePayload(endpoint.Get("/x"), map[string][]string{"n": {"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, "n=1&n=2", p.query.Encode())
}

func TestEncodePayload_QueryStruct(t *testing.T) {
	type filter struct {
		Status string `schema:"status"`
		Page   int    `schema:"page"`
	}
	p, err := encodePayload(endpoint.Get("/x"), filter{Status: "open", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, "open", p.query.Get("status"))
	assert.Equal(t, "3", p.query.Get("page"))
}

func TestEncodePayload_QueryUnsupported(t *testing.T) {
	_, err := encodePayload(endpoint.Get("/x"), []int{1, 2})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payload", verr.Key)
}

func TestEncodePayload_FormQuery(t *testing.T) {
	form := NewForm("").Add("q", "a").Add("q", "b").Add("lang", "en")
	p, err := encodePayload(endpoint.Get("/search"), form)
	require.NoError(t, err)
	assert.Equal(t, "lang=en&q=a&q=b", p.query.Encode())
}

func TestEncodePayload_FormJSON(t *testing.T) {
	form := NewForm("application/x-www-form-urlencoded").Add("name", "x").AddFile("avatar", nil)
	p, err := encodePayload(endpoint.Post("/x"), form)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x"}`, string(p.body))
	assert.Equal(t, contentTypeJSON, p.contentType)
}

func TestEncodePayload_FormMultipart(t *testing.T) {
	file := &File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")}
	form := NewForm("").Add("title", "doc").AddFile("upload", file)
	p, err := encodePayload(endpoint.Post("/x"), form)
	require.NoError(t, err)

	values, types := readParts(t, p)
	assert.Equal(t, "doc", values["title"])
	assert.Equal(t, "hello", values["upload"])
	assert.Equal(t, "text/plain", types["upload"])
}

func TestEncodePayload_FormMultipartByEncType(t *testing.T) {
	form := NewForm("multipart/form-data").Add("title", "doc").AddFile("empty", nil)
	p, err := encodePayload(endpoint.Post("/x"), form)
	require.NoError(t, err)

	values, types := readParts(t, p)
	assert.Equal(t, "doc", values["title"])
	assert.Equal(t, "", values["empty"])
	assert.Equal(t, "application/octet-stream", types["empty"])
}

func TestEncodePayload_NestedFileMultipart(t *testing.T) {
	payload := map[string]any{
		"user": map[string]any{
			"name":   "x",
			"avatar": &File{Name: "a.png", Data: []byte("\x89PNG\r\n\x1a\n")},
		},
		"tags": []any{"a", "b"},
	}
	p, err := encodePayload(endpoint.Post("/x"), payload)
	require.NoError(t, err)

	values, types := readParts(t, p)
	assert.Equal(t, "x", values["user[name]"])
	assert.Equal(t, "a", values["tags[0]"])
	assert.Equal(t, "b", values["tags[1]"])
	assert.Equal(t, "image/png", types["user[avatar]"])
}

func TestEncodePayload_TypedMultipart(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")
	type meta struct {
		Source string `json:"source"`
	}
	type upload struct {
		meta
		Title   string   `json:"title"`
		Doc     *File    `json:"doc"`
		Tags    []string `json:"tags"`
		Note    string   `json:"note,omitempty"`
		Secret  string   `json:"-"`
		Created time.Time
		hidden  string
	}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload any
		values  map[string]string
		types   map[string]string
		absent  []string
	}{
		{
			name: "slice of maps",
			payload: []map[string]any{
				{"name": "first", "file": &File{Name: "a.png", Data: png}},
				{"name": "second"},
			},
			values: map[string]string{"0[name]": "first", "1[name]": "second"},
			types:  map[string]string{"0[file]": "image/png"},
		},
		{
			name: "map of files",
			payload: map[string]*File{
				"front": {Name: "f.png", Data: png},
				"back":  nil,
			},
			types:  map[string]string{"front": "image/png"},
			absent: []string{"back"},
		},
		{
			name: "typed slices",
			payload: map[string]any{
				"tags": []string{"a", "b"},
				"ids":  []int{7, 8},
				"doc":  &File{Name: "d.txt", Data: []byte("body")},
			},
			values: map[string]string{"tags[0]": "a", "tags[1]": "b", "ids[0]": "7", "ids[1]": "8", "doc": "body"},
		},
		{
			name: "struct with json tags",
			payload: upload{
				meta:    meta{Source: "cli"},
				Title:   "report",
				Doc:     &File{Name: "r.png", Data: png},
				Tags:    []string{"q1"},
				Secret:  "s",
				Created: created,
				hidden:  "h",
			},
			values: map[string]string{
				"source":  "cli",
				"title":   "report",
				"tags[0]": "q1",
				"Created": "2024-05-01T12:00:00Z",
			},
			types:  map[string]string{"doc": "image/png"},
			absent: []string{"note", "Secret", "-", "hidden", "meta"},
		},
		{
			name:    "pointer to struct",
			payload: &upload{Title: "t", Doc: &File{Name: "r.png", Data: png}},
			values:  map[string]string{"title": "t"},
			types:   map[string]string{"doc": "image/png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := encodePayload(endpoint.Post("/x"), tt.payload)
			require.NoError(t, err)

			values, types := readParts(t, p)
			for k, want := range tt.values {
				assert.Equal(t, want, values[k], "field %s", k)
			}
			for k, want := range tt.types {
				assert.Equal(t, want, types[k], "part %s", k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, values, k)
			}
		})
	}
}

func TestEncodePayload_StructWithoutFileIsJSON(t *testing.T) {
	type body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
		Doc  *File    `json:"doc,omitempty"`
	}
	p, err := encodePayload(endpoint.Post("/x"), body{Name: "x", Tags: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, contentTypeJSON, p.contentType)
	assert.JSONEq(t, `{"name":"x","tags":["a"]}`, string(p.body))
}

func TestEncodePayload_SingleFile(t *testing.T) {
	p, err := encodePayload(endpoint.Put("/x"), &File{Name: "a.txt", Data: []byte("data")})
	require.NoError(t, err)
	values, _ := readParts(t, p)
	assert.Equal(t, "data", values["file"])
}

func TestContainsFile(t *testing.T) {
	f := &File{}
	type withFile struct {
		Doc *File `json:"doc"`
	}
	type skipped struct {
		Doc *File `json:"-"`
	}
	type embedded struct {
		withFile
		Name string
	}

	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"nil file", (*File)(nil), false},
		{"plain map", map[string]any{"a": 1}, false},
		{"nested any", map[string]any{"a": []any{map[string]any{"b": f}}}, true},
		{"file slice", []*File{f}, true},
		{"slice of maps", []map[string]any{{"a": 1}, {"b": f}}, true},
		{"map of files", map[string]*File{"a": f}, true},
		{"map of nil files", map[string]*File{"a": nil}, false},
		{"array", [1]any{f}, true},
		{"struct field", withFile{Doc: f}, true},
		{"struct pointer", &withFile{Doc: f}, true},
		{"struct nil field", withFile{}, false},
		{"skipped field", skipped{Doc: f}, false},
		{"embedded struct", embedded{withFile: withFile{Doc: f}}, true},
		{"struct in map", map[string]withFile{"x": {Doc: f}}, true},
		{"bytes", []byte("x"), false},
		{"int keys", map[int]*File{1: f}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsFile(tt.v))
		})
	}
}

func TestFormValues(t *testing.T) {
	form := NewForm("").Add("a", "1").Add("a", "2").Add("a", "3").Add("b", "x")
	assert.Equal(t, map[string]any{"a": []any{"1", "2", "3"}, "b": "x"}, form.values())
}

func TestOpenFile(t *testing.T) {
	path := t.TempDir() + "/note.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	f, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "note.json", f.Name)
	assert.Equal(t, "application/json", f.ContentType)

	_, err = OpenFile(path + ".missing")
	assert.Error(t, err)
}
