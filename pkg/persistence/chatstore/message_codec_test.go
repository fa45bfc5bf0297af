package chatstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeMessage_CanonicalShape(t *testing.T) {
	m := Message{
		Role:      RoleAssistant,
		MessageID: "m-1",
		Contents: []ContentPart{
			TextPart("hi"),
			DataPart("data:text/plain;base64,aGk=", "text/plain"),
		},
		CreatedAt: time.UnixMilli(1700000000123),
	}
	b, err := EncodeMessage(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, float64(MessageRecordVersion), raw["v"])
	require.Equal(t, "assistant", raw["role"])
	require.Equal(t, "m-1", raw["message_id"])
	require.Equal(t, float64(1700000000123), raw["created_at_ms"])
	contents := raw["contents"].([]any)
	require.Len(t, contents, 2)
	require.Equal(t, "text", contents[0].(map[string]any)["type"])
	require.Equal(t, "data", contents[1].(map[string]any)["type"])
	require.NotContains(t, string(b), "\n")

	got, err := DecodeMessage(b)
	require.NoError(t, err)
	require.True(t, m.Equal(got))
	require.Equal(t, m.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestEncodeMessage_RejectsUnknownTags(t *testing.T) {
	_, err := EncodeMessage(NewTextMessage(Role("narrator"), "x"))
	require.ErrorIs(t, err, ErrMalformedRecord)

	_, err = EncodeMessage(Message{Role: RoleUser, Contents: []ContentPart{{Type: "hologram"}}})
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEncodeMessage_RejectsInvalidUTF8(t *testing.T) {
	for name, m := range map[string]Message{
		"text":        NewTextMessage(RoleUser, "caf\xe9"),
		"arguments":   {Role: RoleAssistant, Contents: []ContentPart{FunctionCallPart("c1", "lookup", "{\"q\":\"\xff\"}")}},
		"message id":  {Role: RoleUser, MessageID: "m-\xc3", Contents: []ContentPart{TextPart("ok")}},
		"author name": {Role: RoleUser, AuthorName: "\xfe", Contents: []ContentPart{TextPart("ok")}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := EncodeMessage(m)
			require.ErrorIs(t, err, ErrMalformedRecord)
		})
	}

	b, err := EncodeMessage(NewTextMessage(RoleUser, "café ☕"))
	require.NoError(t, err)
	got, err := DecodeMessage(b)
	require.NoError(t, err)
	require.Equal(t, "café ☕", got.Text())
}

func TestEncodeMessage_NilContentsBecomeEmpty(t *testing.T) {
	b, err := EncodeMessage(Message{Role: RoleSystem})
	require.NoError(t, err)
	got, err := DecodeMessage(b)
	require.NoError(t, err)
	require.NotNil(t, got.Contents)
	require.Empty(t, got.Contents)
}

func TestDecodeMessage_RelaxedShapes(t *testing.T) {
	cases := []struct {
		name  string
		input string
		check func(t *testing.T, m Message)
	}{
		{
			name:  "enum style role and extra fields",
			input: `{"type":"chat_message","role":{"value":"user"},"contents":[{"type":"text","text":"hello","annotations":null}],"additional_properties":{}}`,
			check: func(t *testing.T, m Message) {
				require.Equal(t, RoleUser, m.Role)
				require.Equal(t, "hello", m.Text())
			},
		},
		{
			name:  "plain content string",
			input: `{"role":"Assistant","content":"hi there"}`,
			check: func(t *testing.T, m Message) {
				require.Equal(t, RoleAssistant, m.Role)
				require.Equal(t, []ContentPart{TextPart("hi there")}, m.Contents)
			},
		},
		{
			name:  "kind tag and structured result",
			input: `{"role":"tool","parts":[{"kind":"function_result","callId":"c1","result":{"ok":true}}]}`,
			check: func(t *testing.T, m Message) {
				require.Equal(t, RoleTool, m.Role)
				require.Len(t, m.Contents, 1)
				require.Equal(t, ContentFunctionResult, m.Contents[0].Type)
				require.Equal(t, "c1", m.Contents[0].CallID)
				require.JSONEq(t, `{"ok":true}`, m.Contents[0].Result)
			},
		},
		{
			name:  "unknown part type with text",
			input: `{"role":"assistant","contents":[{"type":"reasoning","text":"thinking"},{"type":"usage"}]}`,
			check: func(t *testing.T, m Message) {
				require.Equal(t, []ContentPart{TextPart("thinking")}, m.Contents)
			},
		},
		{
			name:  "yaml record",
			input: "role: system\ntext: be brief\nmessage_id: s-1\n",
			check: func(t *testing.T, m Message) {
				require.Equal(t, RoleSystem, m.Role)
				require.Equal(t, "be brief", m.Text())
				require.Equal(t, "s-1", m.MessageID)
			},
		},
		{
			name:  "newer record version",
			input: `{"v":2,"role":"user","contents":[{"type":"text","text":"v2"}],"created_at_ms":1700000000000}`,
			check: func(t *testing.T, m Message) {
				require.Equal(t, "v2", m.Text())
				require.Equal(t, int64(1700000000000), m.CreatedAt.UnixMilli())
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeMessage([]byte(tc.input))
			require.NoError(t, err)
			tc.check(t, m)
		})
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	for _, input := range []string{
		``,
		`not a record`,
		`{this is not a record`,
		`[1,2,3]`,
		`{"contents":[]}`,
		`{"role":"wizard","contents":[]}`,
		`{"role":"user","contents":[{"type":"hologram"}]}`,
		`{"role":"user","contents":42}`,
	} {
		_, err := DecodeMessage([]byte(input))
		require.ErrorIsf(t, err, ErrMalformedRecord, "input %q", input)
	}
}
