package ttrss

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dhcgn/ttrss-to-maildir/syncerr"
)

// StatusOK is the only status for which content is trusted.
const StatusOK uint32 = 0

var errMissingContent = errors.New("envelope has no content")

// Envelope is the wrapper around every API response.
type Envelope struct {
	Seq     uint32
	Status  uint32
	Content json.RawMessage
}

// ParseEnvelope validates the generic wrapper. A nonzero status is
// returned as a protocol status error without looking at the content
// beyond an optional "error" string used for diagnostics.
func ParseEnvelope(op string, body []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{}, syncerr.ContentDecode(op, fmt.Errorf("envelope: %w", err))
	}

	rawStatus, ok := fields["status"]
	if !ok {
		return Envelope{}, syncerr.ContentDecode(op, errors.New("envelope has no status"))
	}
	var env Envelope
	if isNull(rawStatus) {
		return Envelope{}, syncerr.ContentDecode(op, errors.New("envelope status is null"))
	}
	if err := json.Unmarshal(rawStatus, &env.Status); err != nil {
		return Envelope{}, syncerr.ContentDecode(op, fmt.Errorf("envelope status: %w", err))
	}

	seqErr := decodeSeq(fields["seq"], &env.Seq)
	content, hasContent := fields["content"]

	if env.Status != StatusOK {
		return Envelope{}, syncerr.ProtocolStatus(op, env.Seq, env.Status, errorCode(content))
	}
	if seqErr != nil {
		return Envelope{}, syncerr.ContentDecode(op, fmt.Errorf("envelope seq: %w", seqErr))
	}
	if !hasContent {
		return Envelope{}, syncerr.ContentDecode(op, errMissingContent)
	}

	env.Content = content
	return env, nil
}

func decodeSeq(raw json.RawMessage, dst *uint32) error {
	if raw == nil {
		return nil
	}
	if isNull(raw) {
		return errors.New("seq is null")
	}
	return json.Unmarshal(raw, dst)
}

// isNull reports whether raw is the JSON literal null, which encoding/json
// silently decodes into the zero value of a non-pointer.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func errorCode(content json.RawMessage) string {
	var body struct {
		Error string `json:"error"`
	}
	if len(content) == 0 || json.Unmarshal(content, &body) != nil {
		return ""
	}
	return body.Error
}

// DecodeContent decodes env.Content into T. Every json-tagged non-pointer
// field of T (or of its element type for slices) must be present and not
// null. Unknown fields are
// rejected unless allowUnknown is set.
func DecodeContent[T any](op string, env Envelope, allowUnknown bool) (T, error) {
	var out T

	if err := requireFields(env.Content, requiredFields(reflect.TypeOf((*T)(nil)).Elem())); err != nil {
		return out, syncerr.ContentDecode(op, err)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Content))
	if !allowUnknown {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, syncerr.ContentDecode(op, err)
	}
	return out, nil
}

func requiredFields(t reflect.Type) []string {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" || field.Type.Kind() == reflect.Pointer {
			continue
		}
		names = append(names, name)
	}
	return names
}

func requireFields(raw json.RawMessage, names []string) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case map[string]any:
		return requireObjectFields(val, names)
	case []any:
		for i, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("element %d is not an object", i)
			}
			if err := requireObjectFields(obj, names); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	case nil:
		return errors.New("content is null")
	default:
		return fmt.Errorf("content has unexpected type %T", val)
	}
}

func requireObjectFields(obj map[string]any, names []string) error {
	for _, name := range names {
		v, ok := obj[name]
		if !ok {
			return fmt.Errorf("missing field %q", name)
		}
		if v == nil {
			return fmt.Errorf("field %q is null", name)
		}
	}
	return nil
}
