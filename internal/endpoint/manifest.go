package endpoint

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Manifest is an endpoint tree file plus optional client defaults.
//
//	version: v1.2.0
//	base: https://api.example.com/v1
//	headers:
//	  X-Client: apitree
//	timeout: 10s
//	endpoints:
//	  users:
//	    list: {path: /users, method: GET}
//	    get:  {path: /users/:id, method: GET}
type Manifest struct {
	Version   string
	Base      string
	Headers   map[string]string
	Timeout   time.Duration
	Endpoints Group
}

type rawManifest struct {
	Version   string            `yaml:"version"`
	Base      string            `yaml:"base"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   string            `yaml:"timeout"`
	Endpoints map[string]any    `yaml:"endpoints"`
}

// LoadManifest reads a YAML or JSON manifest from disk.
func LoadManifest(path string) (*Manifest, Issues, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes. Decoding failures are errors;
// problems inside the endpoint tree are returned as issues.
func ParseManifest(data []byte) (*Manifest, Issues, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	if raw.Endpoints == nil {
		return nil, nil, fmt.Errorf("parse manifest: missing endpoints")
	}

	var issues Issues
	m := &Manifest{
		Version: strings.TrimSpace(raw.Version),
		Base:    strings.TrimSpace(raw.Base),
		Headers: raw.Headers,
	}
	if m.Version != "" {
		v := m.Version
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			issues = append(issues, Issue{Path: "version", Message: fmt.Sprintf("invalid semantic version %q", m.Version)})
		} else {
			m.Version = semver.Canonical(v)
		}
	}
	if t := strings.TrimSpace(raw.Timeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d < 0 {
			issues = append(issues, Issue{Path: "timeout", Message: fmt.Sprintf("invalid timeout %q", t)})
		} else {
			m.Timeout = d
		}
	}

	tree, treeIssues := FromMap(raw.Endpoints)
	for _, i := range treeIssues {
		i.Path = "endpoints." + i.Path
		issues = append(issues, i)
	}
	m.Endpoints = tree
	return m, issues, nil
}
