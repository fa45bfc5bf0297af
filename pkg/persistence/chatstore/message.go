package chatstore

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// ContentType tags a ContentPart variant.
type ContentType string

const (
	ContentText           ContentType = "text"
	ContentURI            ContentType = "uri"
	ContentData           ContentType = "data"
	ContentFunctionCall   ContentType = "function_call"
	ContentFunctionResult ContentType = "function_result"
)

func (t ContentType) valid() bool {
	switch t {
	case ContentText, ContentURI, ContentData, ContentFunctionCall, ContentFunctionResult:
		return true
	default:
		return false
	}
}

// ContentPart is one tagged element of a message body. Only the fields
// relevant to Type are populated.
type ContentPart struct {
	Type      ContentType `json:"type" yaml:"type"`
	Text      string      `json:"text,omitempty" yaml:"text,omitempty"`
	URI       string      `json:"uri,omitempty" yaml:"uri,omitempty"`
	MediaType string      `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	CallID    string      `json:"call_id,omitempty" yaml:"call_id,omitempty"`
	Name      string      `json:"name,omitempty" yaml:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Result    string      `json:"result,omitempty" yaml:"result,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

func URIPart(uri, mediaType string) ContentPart {
	return ContentPart{Type: ContentURI, URI: uri, MediaType: mediaType}
}

func DataPart(dataURI, mediaType string) ContentPart {
	return ContentPart{Type: ContentData, URI: dataURI, MediaType: mediaType}
}

func FunctionCallPart(callID, name, arguments string) ContentPart {
	return ContentPart{Type: ContentFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

func FunctionResultPart(callID, result string) ContentPart {
	return ContentPart{Type: ContentFunctionResult, CallID: callID, Result: result}
}

// Message is one turn of a conversation. Messages are values; the log never
// rewrites an entry once appended.
type Message struct {
	Role       Role          `json:"role" yaml:"role"`
	Contents   []ContentPart `json:"contents" yaml:"contents"`
	MessageID  string        `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	AuthorName string        `json:"author_name,omitempty" yaml:"author_name,omitempty"`
	CreatedAt  time.Time     `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Contents: []ContentPart{TextPart(text)}}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Contents {
		if c.Type == ContentText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Equal compares role and contents, ignoring CreatedAt.
func (m Message) Equal(o Message) bool {
	if m.Role != o.Role || m.MessageID != o.MessageID || m.AuthorName != o.AuthorName {
		return false
	}
	if len(m.Contents) != len(o.Contents) {
		return false
	}
	for i := range m.Contents {
		if m.Contents[i] != o.Contents[i] {
			return false
		}
	}
	return true
}
