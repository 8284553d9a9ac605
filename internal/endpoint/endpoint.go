// Package endpoint models declarative endpoint trees.
//
// A tree is a Group whose entries are either a Definition (a leaf: path
// template plus HTTP method) or a nested Group. Trees decoded from untyped
// data (JSON, YAML) go through FromMap, which decides once per node whether
// it is a leaf or a group and reports anything it had to skip as an Issue.
package endpoint

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Entry is either a Definition or a Group.
type Entry interface {
	isEntry()
}

// Definition is a single endpoint: a path template and an HTTP method.
type Definition struct {
	Path   string `json:"path" yaml:"path"`
	Method string `json:"method" yaml:"method"`
}

func (Definition) isEntry() {}

// Group maps names to nested entries.
type Group map[string]Entry

func (Group) isEntry() {}

// Get returns a leaf definition.
func Get(path string) Definition { return Definition{Path: path, Method: http.MethodGet} }

// Post returns a leaf definition.
func Post(path string) Definition { return Definition{Path: path, Method: http.MethodPost} }

// Put returns a leaf definition.
func Put(path string) Definition { return Definition{Path: path, Method: http.MethodPut} }

// Patch returns a leaf definition.
func Patch(path string) Definition { return Definition{Path: path, Method: http.MethodPatch} }

// Delete returns a leaf definition.
func Delete(path string) Definition { return Definition{Path: path, Method: http.MethodDelete} }

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// IsSupportedMethod reports whether method (already upper-cased) can be used by a leaf.
func IsSupportedMethod(method string) bool {
	return supportedMethods[method]
}

// HasBody reports whether requests with this method carry a body.
func (d Definition) HasBody() bool {
	switch d.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

var placeholderRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Placeholders returns the distinct :name tokens of the path template, in order.
func (d Definition) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(d.Path, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Issue is a structural warning found while validating a tree. The offending
// branch is left out of the typed tree; it never aborts construction.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) Error() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Issues is the result list of a validation pass.
type Issues []Issue

// Err combines the issues into a single error, or nil when there are none.
func (is Issues) Err() error {
	var err error
	for _, i := range is {
		err = multierr.Append(err, i)
	}
	return err
}

func joinPath(prefix []string, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return strings.Join(prefix, ".") + "." + name
}

// Validate checks a typed tree and returns a copy that only contains valid
// leaves, plus the issues for everything it dropped. Method names are
// normalized to upper case.
func Validate(g Group) (Group, Issues) {
	var issues Issues
	out := validateGroup(g, nil, &issues)
	return out, issues
}

func validateGroup(g Group, prefix []string, issues *Issues) Group {
	out := make(Group, len(g))
	for _, name := range sortedNames(g) {
		where := joinPath(prefix, name)
		if name == "" {
			*issues = append(*issues, Issue{Path: where, Message: "empty entry name"})
			continue
		}
		switch e := g[name].(type) {
		case Definition:
			def, err := normalizeDefinition(e)
			if err != "" {
				*issues = append(*issues, Issue{Path: where, Message: err})
				continue
			}
			out[name] = def
		case *Definition:
			if e == nil {
				*issues = append(*issues, Issue{Path: where, Message: "nil definition"})
				continue
			}
			def, err := normalizeDefinition(*e)
			if err != "" {
				*issues = append(*issues, Issue{Path: where, Message: err})
				continue
			}
			out[name] = def
		case Group:
			out[name] = validateGroup(e, append(prefix, name), issues)
		case nil:
			*issues = append(*issues, Issue{Path: where, Message: "nil entry"})
		default:
			*issues = append(*issues, Issue{Path: where, Message: fmt.Sprintf("unsupported entry type %T", e)})
		}
	}
	return out
}

func normalizeDefinition(d Definition) (Definition, string) {
	d.Method = strings.ToUpper(strings.TrimSpace(d.Method))
	if !IsSupportedMethod(d.Method) {
		return d, fmt.Sprintf("unsupported method %q", d.Method)
	}
	if strings.TrimSpace(d.Path) == "" {
		return d, "empty path"
	}
	return d, ""
}

// FromMap converts untyped tree data into a typed Group.
//
// A node is a leaf iff it has both a string "path" and a string "method".
// Any other map is a group. Everything else is reported and skipped. A
// group that itself contains string "path" and "method" keys is
// indistinguishable from a leaf and is treated as one.
func FromMap(raw map[string]any) (Group, Issues) {
	var issues Issues
	g := fromMap(raw, nil, &issues)
	out, more := Validate(g)
	return out, append(issues, more...)
}

func fromMap(raw map[string]any, prefix []string, issues *Issues) Group {
	g := make(Group, len(raw))
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		where := joinPath(prefix, name)
		node, ok := asMap(raw[name])
		if !ok {
			*issues = append(*issues, Issue{Path: where, Message: fmt.Sprintf("expected endpoint or group, got %s", describe(raw[name]))})
			continue
		}
		if def, ok := asDefinition(node); ok {
			g[name] = def
			continue
		}
		if looksLikeBrokenLeaf(node) {
			*issues = append(*issues, Issue{Path: where, Message: "endpoint path and method must be strings"})
			continue
		}
		g[name] = fromMap(node, append(prefix, name), issues)
	}
	return g
}

func asDefinition(node map[string]any) (Definition, bool) {
	path, ok := node["path"].(string)
	if !ok {
		return Definition{}, false
	}
	method, ok := node["method"].(string)
	if !ok {
		return Definition{}, false
	}
	return Definition{Path: path, Method: method}, true
}

// looksLikeBrokenLeaf reports a node carrying both leaf keys where at least
// one of them is a scalar of the wrong type. Nested groups that happen to be
// called "path" and "method" are left alone.
func looksLikeBrokenLeaf(node map[string]any) bool {
	path, hasPath := node["path"]
	method, hasMethod := node["method"]
	if !hasPath || !hasMethod {
		return false
	}
	_, pathIsGroup := asMap(path)
	_, methodIsGroup := asMap(method)
	return !pathIsGroup || !methodIsGroup
}

// asMap accepts the map shapes produced by encoding/json and yaml.v3.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case []any:
		return "array"
	case bool:
		return "boolean"
	case int, int64, float64, uint64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func sortedNames(g Group) []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Leaf is a flattened view of one definition.
type Leaf struct {
	Name []string
	Definition
}

// DottedName returns the leaf name joined with dots.
func (l Leaf) DottedName() string {
	return strings.Join(l.Name, ".")
}

// Leaves returns every definition of the tree in lexical name order.
func Leaves(g Group) []Leaf {
	var out []Leaf
	collect(g, nil, &out)
	return out
}

func collect(g Group, prefix []string, out *[]Leaf) {
	for _, name := range sortedNames(g) {
		path := append(append([]string(nil), prefix...), name)
		switch e := g[name].(type) {
		case Definition:
			*out = append(*out, Leaf{Name: path, Definition: e})
		case Group:
			collect(e, path, out)
		}
	}
}
