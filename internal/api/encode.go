package api

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/schema"

	"github.com/salmonumbrella/apitree/internal/endpoint"
)

const contentTypeJSON = "application/json"

var schemaEncoder = schema.NewEncoder()

// encodedPayload is what the encoder hands to the dispatcher.
// contentType is empty when the encoder leaves the header to the caller.
type encodedPayload struct {
	query       url.Values
	body        []byte
	contentType string
}

func (p *encodedPayload) hasBody() bool { return p != nil && p.body != nil }

// encodePayload picks the wire encoding for payload: query parameters for
// GET and DELETE, otherwise JSON, multipart or a raw body.
func encodePayload(def endpoint.Definition, payload any) (*encodedPayload, error) {
	if isEmptyPayload(payload) {
		return &encodedPayload{}, nil
	}
	if !def.HasBody() {
		q, err := encodeQuery(payload)
		if err != nil {
			return nil, err
		}
		return &encodedPayload{query: q}, nil
	}

	switch v := payload.(type) {
	case *Form:
		if v.isMultipart() {
			return encodeFormMultipart(v)
		}
		return encodeJSON(v.values())
	case string:
		return encodeRaw([]byte(v)), nil
	case []byte:
		return encodeRaw(v), nil
	case *File:
		return encodeMultipart(map[string]any{"file": v})
	}
	if containsFile(payload) {
		return encodeMultipart(payload)
	}
	return encodeJSON(payload)
}

func isEmptyPayload(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case *Form:
		return v == nil || len(v.Fields) == 0
	case *File:
		return v == nil
	}
	rv := reflect.ValueOf(payload)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// encodeRaw sends a caller-built body. It is tagged as JSON only when it parses as JSON.
func encodeRaw(body []byte) *encodedPayload {
	p := &encodedPayload{body: body}
	if json.Valid(body) {
		p.contentType = contentTypeJSON
	}
	return p
}

func encodeJSON(v any) (*encodedPayload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Key: "payload", Reason: fmt.Sprintf("cannot encode as JSON: %v", err)}
	}
	return &encodedPayload{body: data, contentType: contentTypeJSON}, nil
}

func encodeQuery(payload any) (url.Values, error) {
	q := url.Values{}
	switch v := payload.(type) {
	case map[string]any:
		for k, val := range v {
			addQueryValue(q, k, val)
		}
	case url.Values:
		for k, vals := range v {
			for _, val := range vals {
				q.Add(k, val)
			}
		}
	case *Form:
		for k, val := range v.values() {
			addQueryValue(q, k, val)
		}
	case string:
		parsed, err := url.ParseQuery(strings.TrimPrefix(v, "?"))
		if err != nil {
			return nil, &ValidationError{Key: "payload", Reason: fmt.Sprintf("invalid query string: %v", err)}
		}
		return parsed, nil
	default:
		if rv := reflect.ValueOf(payload); isStringKeyedMap(rv) {
			iter := rv.MapRange()
			for iter.Next() {
				addQueryValue(q, iter.Key().String(), iter.Value().Interface())
			}
			return q, nil
		}
		if !isStruct(payload) {
			return nil, &ValidationError{Key: "payload", Reason: fmt.Sprintf("unsupported query payload %T", payload)}
		}
		if err := schemaEncoder.Encode(payload, q); err != nil {
			return nil, &ValidationError{Key: "payload", Reason: err.Error()}
		}
	}
	return q, nil
}

// addQueryValue expands slices and arrays of any element type into repeated
// keys and skips nil values.
func addQueryValue(q url.Values, key string, val any) {
	if val == nil {
		return
	}
	rv := reflect.ValueOf(val)
	if isList(rv) {
		for i := 0; i < rv.Len(); i++ {
			item := indirect(rv.Index(i))
			if !item.IsValid() {
				continue
			}
			q.Add(key, scalarString(item.Interface()))
		}
		return
	}
	q.Add(key, scalarString(val))
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

var (
	fileType          = reflect.TypeOf((*File)(nil))
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// maxPayloadDepth bounds the payload walk so self-referencing values end.
const maxPayloadDepth = 32

func isNil(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func isStringKeyedMap(rv reflect.Value) bool {
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}

// isList reports slices and arrays, except byte slices which are scalars.
func isList(rv reflect.Value) bool {
	k := rv.Kind()
	return (k == reflect.Slice || k == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8
}

// indirect unwraps interfaces and pointers down to a *File or a concrete
// value. It returns an invalid value for nil.
func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Ptr) {
		if rv.IsNil() || rv.Type() == fileType {
			break
		}
		rv = rv.Elem()
	}
	if isNil(rv) {
		return reflect.Value{}
	}
	return rv
}

// containsFile scans maps, slices, arrays and structs recursively for a
// non-nil *File.
func containsFile(v any) bool {
	return valueContainsFile(reflect.ValueOf(v), 0)
}

func valueContainsFile(rv reflect.Value, depth int) bool {
	rv = indirect(rv)
	if !rv.IsValid() || depth > maxPayloadDepth {
		return false
	}
	if rv.Type() == fileType {
		return true
	}
	switch {
	case isStringKeyedMap(rv):
		iter := rv.MapRange()
		for iter.Next() {
			if valueContainsFile(iter.Value(), depth+1) {
				return true
			}
		}
	case isList(rv):
		for i := 0; i < rv.Len(); i++ {
			if valueContainsFile(rv.Index(i), depth+1) {
				return true
			}
		}
	case rv.Kind() == reflect.Struct:
		for _, f := range structFields(rv) {
			if valueContainsFile(f.value, depth+1) {
				return true
			}
		}
	}
	return false
}

type namedField struct {
	name  string
	value reflect.Value
}

// structFields lists the exported fields of a struct under their JSON
// names. Fields tagged "-" and empty omitempty fields are left out;
// untagged embedded structs are flattened.
func structFields(rv reflect.Value) []namedField {
	var out []namedField
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)
		if sf.Anonymous && name == "" {
			if inner := indirect(fv); inner.IsValid() && inner.Kind() == reflect.Struct {
				out = append(out, structFields(inner)...)
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if strings.Contains(","+opts+",", ",omitempty,") && fv.IsZero() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out = append(out, namedField{name: name, value: fv})
	}
	return out
}

func encodeMultipart(payload any) (*encodedPayload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeMultipartValue(w, "", reflect.ValueOf(payload), 0); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &encodedPayload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

// writeMultipartValue writes nested values with bracketed keys:
// key[sub] for maps and structs, key[idx] for slices and arrays.
func writeMultipartValue(w *multipart.Writer, key string, rv reflect.Value, depth int) error {
	rv = indirect(rv)
	if !rv.IsValid() {
		return nil
	}
	if depth > maxPayloadDepth {
		return &ValidationError{Key: key, Reason: "payload is nested too deeply"}
	}
	child := func(sub string) string {
		if key == "" {
			return sub
		}
		return key + "[" + sub + "]"
	}

	if rv.Type() == fileType {
		return writeFilePart(w, key, rv.Interface().(*File))
	}
	if rv.CanInterface() && (rv.Type().Implements(textMarshalerType) ||
		rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(textMarshalerType)) {
		return writeTextField(w, key, rv)
	}
	switch {
	case isStringKeyedMap(rv):
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			if err := writeMultipartValue(w, child(k), v, depth+1); err != nil {
				return err
			}
		}
		return nil
	case isList(rv):
		for i := 0; i < rv.Len(); i++ {
			if err := writeMultipartValue(w, child(strconv.Itoa(i)), rv.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case rv.Kind() == reflect.Struct:
		for _, f := range structFields(rv) {
			if err := writeMultipartValue(w, child(f.name), f.value, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		if err := w.WriteField(key, string(rv.Bytes())); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
		return nil
	}
	var value any
	if rv.CanInterface() {
		value = rv.Interface()
	}
	if err := w.WriteField(key, scalarString(value)); err != nil {
		return fmt.Errorf("failed to write field %s: %w", key, err)
	}
	return nil
}

func writeTextField(w *multipart.Writer, key string, rv reflect.Value) error {
	m, ok := rv.Interface().(encoding.TextMarshaler)
	if !ok {
		m = rv.Addr().Interface().(encoding.TextMarshaler)
	}
	text, err := m.MarshalText()
	if err != nil {
		return &ValidationError{Key: key, Reason: err.Error()}
	}
	if err := w.WriteField(key, string(text)); err != nil {
		return fmt.Errorf("failed to write field %s: %w", key, err)
	}
	return nil
}

func writeFilePart(w *multipart.Writer, name string, f *File) error {
	if f == nil {
		return nil
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(name), escapeQuotes(f.Name)))
	h.Set("Content-Type", f.mediaType())
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", name, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("failed to write file content %s: %w", name, err)
	}
	return nil
}

// encodeFormMultipart sends the form fields as they are, in order.
func encodeFormMultipart(f *Form) (*encodedPayload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range f.Fields {
		if field.FileInput {
			file := field.File
			if file == nil {
				file = &File{ContentType: "application/octet-stream"}
			}
			if err := writeFilePart(w, field.Name, file); err != nil {
				return nil, err
			}
			continue
		}
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", field.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &encodedPayload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
