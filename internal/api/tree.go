package api

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/salmonumbrella/apitree/internal/endpoint"
)

// RequestFunc is the callable form of a generated endpoint. See Endpoint.Call.
type RequestFunc func(ctx context.Context, args ...any) (*Envelope, error)

// Group is a generated node mirroring an endpoint.Group. It is immutable
// once New returns.
type Group struct {
	name      []string
	groups    map[string]*Group
	endpoints map[string]*Endpoint
}

// Endpoint is a generated leaf.
type Endpoint struct {
	client *Client
	name   []string
	def    endpoint.Definition
}

// mirror populates target so that every group of tree becomes a nested
// Group and every definition becomes an Endpoint, keeping names and nesting.
func (c *Client) mirror(tree endpoint.Group, target *Group) {
	target.groups = make(map[string]*Group)
	target.endpoints = make(map[string]*Endpoint)
	for name, entry := range tree {
		path := append(append([]string(nil), target.name...), name)
		switch e := entry.(type) {
		case endpoint.Definition:
			target.endpoints[name] = &Endpoint{client: c, name: path, def: e}
		case endpoint.Group:
			child := &Group{name: path}
			c.mirror(e, child)
			target.groups[name] = child
		}
	}
}

// Name returns the dotted name of the group ("" for the root).
func (g *Group) Name() string {
	return strings.Join(g.name, ".")
}

// Group returns the named child group, or nil.
func (g *Group) Group(name string) *Group {
	if g == nil {
		return nil
	}
	return g.groups[name]
}

// Endpoint returns the named child endpoint, or nil.
func (g *Group) Endpoint(name string) *Endpoint {
	if g == nil {
		return nil
	}
	return g.endpoints[name]
}

// Lookup resolves a dotted name such as "users.posts.create".
func (g *Group) Lookup(dotted string) (*Endpoint, bool) {
	parts := strings.Split(dotted, ".")
	cur := g
	for _, p := range parts[:len(parts)-1] {
		cur = cur.Group(p)
		if cur == nil {
			return nil, false
		}
	}
	ep := cur.Endpoint(parts[len(parts)-1])
	return ep, ep != nil
}

// Names returns the names of the direct children, sorted.
func (g *Group) Names() []string {
	names := make([]string, 0, len(g.groups)+len(g.endpoints))
	for name := range g.groups {
		names = append(names, name)
	}
	for name := range g.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsGroup reports whether the named child is a group.
func (g *Group) IsGroup(name string) bool {
	_, ok := g.groups[name]
	return ok
}

// Walk calls fn for every endpoint below g in lexical order.
func (g *Group) Walk(fn func(*Endpoint)) {
	for _, name := range g.Names() {
		if child, ok := g.groups[name]; ok {
			child.Walk(fn)
			continue
		}
		fn(g.endpoints[name])
	}
}

// All returns every endpoint below g in lexical order.
func (g *Group) All() []*Endpoint {
	var out []*Endpoint
	g.Walk(func(e *Endpoint) { out = append(out, e) })
	return out
}

// Name returns the dotted name of the endpoint.
func (e *Endpoint) Name() string { return strings.Join(e.name, ".") }

// Method returns the HTTP method.
func (e *Endpoint) Method() string { return e.def.Method }

// Path returns the path template.
func (e *Endpoint) Path() string { return e.def.Path }

// Definition returns the endpoint definition the leaf was generated from.
func (e *Endpoint) Definition() endpoint.Definition { return e.def }

// Func returns the endpoint as a RequestFunc.
func (e *Endpoint) Func() RequestFunc { return e.Call }

// Call resolves up to two arguments into path parameters and payload and
// performs the request.
//
//	ep.Call(ctx, 2)                                        // path param only
//	ep.Call(ctx, map[string]any{"$params": {...}, ...})    // one combined bag
//	ep.Call(ctx, map[string]any{"id": 2}, payload)         // params and payload
//
// Only argument problems are returned as errors (*ValidationError), plus
// *InterceptorError when the 401 callback fails. HTTP and network failures
// are reported through the envelope.
func (e *Endpoint) Call(ctx context.Context, args ...any) (*Envelope, error) {
	req, err := resolveArgs(args)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, req)
}

// Prepare builds the outgoing request for args without sending it. The
// returned request has no deadline attached.
func (e *Endpoint) Prepare(ctx context.Context, args ...any) (*http.Request, error) {
	req, err := resolveArgs(args)
	if err != nil {
		return nil, err
	}
	return e.prepare(ctx, req)
}
