package api

import (
	"errors"
	"fmt"
	"reflect"
)

// ParamsKey is the reserved key of a combined argument bag holding the path
// parameters.
const ParamsKey = "$params"

// Request is the explicit form of a call.
//
// PathParams is nil, a scalar (string, bool or number) replacing the first
// placeholder of the path, or a string-keyed map (map[string]any,
// map[string]string, ...) keyed by placeholder name. Payload is encoded according to the endpoint method.
type Request struct {
	PathParams any
	Payload    any
}

// resolveArgs decides which call arguments are path parameters and which
// is the payload:
//
//  1. two arguments: the first is the path parameter source, the second the payload;
//  2. one map argument: a combined bag, with path parameters under "$params";
//  3. otherwise a scalar (or nothing) is the path parameter source.
//
// A single *Form, *File or struct argument is the payload.
func resolveArgs(args []any) (Request, error) {
	switch len(args) {
	case 0:
		return Request{}, nil
	case 2:
		return Request{PathParams: args[0], Payload: args[1]}, nil
	case 1:
	default:
		return Request{}, &ValidationError{Reason: fmt.Sprintf("expected at most 2 arguments, got %d", len(args))}
	}

	a := args[0]
	switch v := a.(type) {
	case nil:
		return Request{}, nil
	case map[string]any:
		if v == nil {
			return Request{}, nil
		}
		return splitBag(v)
	case *Form, *File:
		return Request{Payload: a}, nil
	}
	if isScalar(a) {
		return Request{PathParams: a}, nil
	}
	return Request{Payload: a}, nil
}

// splitBag extracts "$params" from a combined bag. A "$params" value that is
// not a string-keyed map stays in the payload. The caller's map is not modified.
func splitBag(bag map[string]any) (Request, error) {
	raw, ok := bag[ParamsKey]
	if !ok || raw == nil || !isStringKeyedMap(reflect.ValueOf(raw)) {
		return Request{Payload: bag}, nil
	}
	_, params, err := pathParamMap(raw)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Key = ParamsKey + "." + verr.Key
		}
		return Request{}, err
	}
	payload := make(map[string]any, len(bag)-1)
	for k, v := range bag {
		if k != ParamsKey {
			payload[k] = v
		}
	}
	return Request{PathParams: params, Payload: payload}, nil
}

func isScalar(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// pathParamMap normalizes an explicit path parameter source. It returns the
// scalar (if any) or the map form. Any map keyed by strings is accepted.
func pathParamMap(src any) (scalar any, params map[string]any, err error) {
	switch v := src.(type) {
	case nil:
		return nil, nil, nil
	case map[string]any:
		for k, val := range v {
			if val != nil && !isScalar(val) {
				return nil, nil, &ValidationError{Key: k, Reason: "path parameters must be scalar"}
			}
		}
		return nil, v, nil
	}
	if isScalar(src) {
		return src, nil, nil
	}
	rv := reflect.ValueOf(src)
	if !isStringKeyedMap(rv) {
		return nil, nil, &ValidationError{Key: "path parameters", Reason: fmt.Sprintf("unsupported type %T", src)}
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		val := indirect(iter.Value())
		if !val.IsValid() {
			out[k] = nil
			continue
		}
		if !isScalar(val.Interface()) {
			return nil, nil, &ValidationError{Key: k, Reason: "path parameters must be scalar"}
		}
		out[k] = val.Interface()
	}
	return nil, out, nil
}
