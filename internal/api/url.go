package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*`)

// joinURL joins base and path with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// substitutePath fills placeholders of tmpl.
//
// A scalar replaces the first placeholder whatever its name. A map replaces
// every occurrence of each named placeholder; nil values become "".
// Placeholders without a value are left as they are.
func substitutePath(tmpl string, scalar any, params map[string]any) string {
	if scalar != nil {
		loc := placeholderRe.FindStringIndex(tmpl)
		if loc == nil {
			return tmpl
		}
		return tmpl[:loc[0]] + url.PathEscape(scalarString(scalar)) + tmpl[loc[1]:]
	}
	if len(params) == 0 {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		v, ok := params[m[1:]]
		if !ok {
			return m
		}
		if v == nil {
			return ""
		}
		return url.PathEscape(scalarString(v))
	})
}

// buildURL returns the full request URL without query parameters.
func buildURL(base, tmpl string, pathParams any) (string, error) {
	scalar, params, err := pathParamMap(pathParams)
	if err != nil {
		return "", err
	}
	return joinURL(base, substitutePath(tmpl, scalar, params)), nil
}

// appendQuery adds encoded query values, keeping any query the template had.
func appendQuery(rawURL string, q url.Values) string {
	if len(q) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}

// scalarString formats a value for a path segment, query value or form field.
func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	}
	if isScalar(v) {
		return fmt.Sprint(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
