package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds the byte length of a single decoded value.
var defaultFieldLimit = 16 * 1024 // 16KB

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  first value of r.URL.Query()[name]
//   - `header:"name"` r.Header.Get(name)
//   - `cookie:"name"` r.Cookie(name)
//   - `maxLength:"n"` overrides the 16KB per-value limit ("0" disables it)
//
// Precedence when several tags are present is path, query, header, cookie.
// Fields with no data are left unchanged. Supported field kinds are string,
// bool, the integer kinds and embedded structs.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}
	return unmarshalStruct(r, root)
}

type source struct {
	tag   string
	fetch func(r *http.Request, name string) (string, bool)
}

var sources = []source{
	{"path", func(r *http.Request, name string) (string, bool) {
		s := r.PathValue(name)
		return s, s != ""
	}},
	{"query", func(r *http.Request, name string) (string, bool) {
		if r.URL == nil {
			return "", false
		}
		vals, ok := r.URL.Query()[name]
		if !ok || len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}},
	{"header", func(r *http.Request, name string) (string, bool) {
		vals := r.Header.Values(name)
		if len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}},
	{"cookie", func(r *http.Request, name string) (string, bool) {
		c, err := r.Cookie(name)
		if err != nil {
			return "", false
		}
		return c.Value, true
	}},
}

func unmarshalStruct(r *http.Request, structVal reflect.Value) error {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		fv := structVal.Field(i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if err := unmarshalStruct(r, fv); err != nil {
				return err
			}
			continue
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, src := range sources {
			name, ok := sf.Tag.Lookup(src.tag)
			if !ok || name == "-" {
				continue
			}
			name, _, _ = strings.Cut(name, ",")
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			raw, found := src.fetch(r, name)
			if !found {
				continue
			}
			if limit > 0 && len(raw) > limit {
				return newEndpointError(http.StatusBadRequest, fmt.Sprintf("%s exceeds maximum length", name), nil)
			}
			if err := setField(fv, raw); err != nil {
				return newEndpointError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name), err)
			}
			break
		}
	}
	return nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	tag, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(tag)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("maxLength must be non-negative")
	}
	return n, nil
}

func setField(v reflect.Value, s string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}
