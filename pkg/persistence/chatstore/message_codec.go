package chatstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MessageRecordVersion is written into every canonical record.
const MessageRecordVersion = 1

// messageRecord is the canonical on-wire shape of a Message.
type messageRecord struct {
	V           int           `json:"v"`
	Role        Role          `json:"role"`
	Contents    []ContentPart `json:"contents"`
	MessageID   string        `json:"message_id,omitempty"`
	AuthorName  string        `json:"author_name,omitempty"`
	CreatedAtMs int64         `json:"created_at_ms,omitempty"`
}

// EncodeMessage serializes a message into its canonical compact JSON record.
func EncodeMessage(m Message) ([]byte, error) {
	if !m.Role.Valid() {
		return nil, errors.Wrapf(ErrMalformedRecord, "encode: unknown role %q", m.Role)
	}
	contents := m.Contents
	if contents == nil {
		contents = []ContentPart{}
	}
	for i, c := range contents {
		if !c.Type.valid() {
			return nil, errors.Wrapf(ErrMalformedRecord, "encode: content %d has unknown type %q", i, c.Type)
		}
		if err := checkUTF8(
			"text", c.Text, "uri", c.URI, "media_type", c.MediaType, "call_id", c.CallID,
			"name", c.Name, "arguments", c.Arguments, "result", c.Result,
		); err != nil {
			return nil, errors.Wrapf(err, "encode: content %d", i)
		}
	}
	if err := checkUTF8("message_id", m.MessageID, "author_name", m.AuthorName); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	rec := messageRecord{
		V:          MessageRecordVersion,
		Role:       m.Role,
		Contents:   contents,
		MessageID:  m.MessageID,
		AuthorName: m.AuthorName,
	}
	if !m.CreatedAt.IsZero() {
		rec.CreatedAtMs = m.CreatedAt.UnixMilli()
	}
	return json.Marshal(rec)
}

// checkUTF8 takes field/value pairs. json.Marshal would replace invalid bytes
// with U+FFFD, so such values are rejected instead of stored altered.
func checkUTF8(fieldValues ...string) error {
	for i := 0; i+1 < len(fieldValues); i += 2 {
		if !utf8.ValidString(fieldValues[i+1]) {
			return errors.Wrapf(ErrMalformedRecord, "%s is not valid UTF-8", fieldValues[i])
		}
	}
	return nil
}

// DecodeMessage parses a stored record. The canonical shape is tried first;
// records that do not match it go through the relaxed path, which accepts the
// field spellings of older and newer writers. ErrMalformedRecord is returned
// when both paths reject the record.
func DecodeMessage(b []byte) (Message, error) {
	if m, err := decodeCanonical(b); err == nil {
		return m, nil
	}
	m, err := decodeRelaxed(b)
	if err != nil {
		return Message{}, errors.Wrap(ErrMalformedRecord, err.Error())
	}
	return m, nil
}

func decodeCanonical(b []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var rec messageRecord
	if err := dec.Decode(&rec); err != nil {
		return Message{}, err
	}
	if dec.More() {
		return Message{}, errors.New("trailing data")
	}
	if rec.V != MessageRecordVersion {
		return Message{}, errors.Errorf("unsupported record version %d", rec.V)
	}
	if !rec.Role.Valid() {
		return Message{}, errors.Errorf("unknown role %q", rec.Role)
	}
	if rec.Contents == nil {
		return Message{}, errors.New("missing contents")
	}
	for i, c := range rec.Contents {
		if !c.Type.valid() {
			return Message{}, errors.Errorf("content %d has unknown type %q", i, c.Type)
		}
	}
	m := Message{
		Role:       rec.Role,
		Contents:   rec.Contents,
		MessageID:  rec.MessageID,
		AuthorName: rec.AuthorName,
	}
	if rec.CreatedAtMs > 0 {
		m.CreatedAt = time.UnixMilli(rec.CreatedAtMs).UTC()
	}
	return m, nil
}

// decodeRelaxed goes through yaml.v3, which reads JSON as well as the YAML
// payloads some writers emit, and then normalizes the generic tree.
func decodeRelaxed(b []byte) (Message, error) {
	var raw any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Message{}, errors.Wrap(err, "relaxed decode")
	}
	obj, ok := normalizeRecordValue(raw).(map[string]any)
	if !ok {
		return Message{}, errors.New("relaxed decode: record is not an object")
	}

	role, err := relaxedRole(obj["role"])
	if err != nil {
		return Message{}, err
	}
	m := Message{
		Role:       role,
		MessageID:  firstString(obj, "message_id", "messageId", "id"),
		AuthorName: firstString(obj, "author_name", "authorName", "author"),
	}
	m.CreatedAt = relaxedTime(obj)

	contents, err := relaxedContents(obj)
	if err != nil {
		return Message{}, err
	}
	m.Contents = contents
	return m, nil
}

func relaxedRole(v any) (Role, error) {
	switch vv := v.(type) {
	case string:
		r := Role(strings.ToLower(strings.TrimSpace(vv)))
		if r.Valid() {
			return r, nil
		}
		return "", errors.Errorf("unknown role %q", vv)
	case map[string]any:
		return relaxedRole(vv["value"])
	case nil:
		return "", errors.New("missing role")
	default:
		return "", errors.Errorf("role has unexpected type %T", v)
	}
}

func relaxedContents(obj map[string]any) ([]ContentPart, error) {
	var src any
	for _, k := range []string{"contents", "content", "parts"} {
		if v, ok := obj[k]; ok && v != nil {
			src = v
			break
		}
	}
	if src == nil {
		if text, ok := obj["text"].(string); ok {
			return []ContentPart{TextPart(text)}, nil
		}
		return []ContentPart{}, nil
	}

	switch vv := src.(type) {
	case string:
		return []ContentPart{TextPart(vv)}, nil
	case []any:
		out := make([]ContentPart, 0, len(vv))
		for i, item := range vv {
			part, ok, err := relaxedPart(item)
			if err != nil {
				return nil, errors.Wrapf(err, "content %d", i)
			}
			if ok {
				out = append(out, part)
			}
		}
		if len(out) == 0 && len(vv) > 0 {
			return nil, errors.New("no usable content parts")
		}
		return out, nil
	default:
		return nil, errors.Errorf("contents have unexpected type %T", src)
	}
}

func relaxedPart(item any) (ContentPart, bool, error) {
	switch vv := item.(type) {
	case string:
		return TextPart(vv), true, nil
	case map[string]any:
		tag := ContentType(strings.ToLower(firstString(vv, "type", "kind", "$type")))
		p := ContentPart{
			Type:      tag,
			Text:      firstString(vv, "text"),
			URI:       firstString(vv, "uri", "url"),
			MediaType: firstString(vv, "media_type", "mediaType", "mime_type"),
			CallID:    firstString(vv, "call_id", "callId"),
			Name:      firstString(vv, "name"),
			Arguments: stringOrJSON(vv["arguments"]),
			Result:    stringOrJSON(vv["result"]),
		}
		if p.Type.valid() {
			return p, true, nil
		}
		if p.Text != "" {
			return TextPart(p.Text), true, nil
		}
		return ContentPart{}, false, nil
	default:
		return ContentPart{}, false, errors.Errorf("unexpected part type %T", item)
	}
}

func relaxedTime(obj map[string]any) time.Time {
	switch v := obj["created_at_ms"].(type) {
	case int:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	}
	switch v := obj["created_at"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	case time.Time:
		return v.UTC()
	}
	return time.Time{}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringOrJSON(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(b)
	}
}

// normalizeRecordValue turns the generic tree produced by yaml.v3 into
// JSON-compatible values (string-keyed maps, []any slices).
func normalizeRecordValue(v any) any {
	if v == nil {
		return nil
	}

	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, value := range vv {
			out[k] = normalizeRecordValue(value)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(vv))
		for k, value := range vv {
			out[fmt.Sprint(k)] = normalizeRecordValue(value)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = normalizeRecordValue(vv[i])
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalizeRecordValue(iter.Value().Interface())
		}
		return out
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeRecordValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
