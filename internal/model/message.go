package model

type (
	// MessageType is the canonical tag of a federation message. Legacy
	// names (signed_retraction, relayable_retraction, request) collapse
	// into this set during normalization.
	MessageType string

	// Field is one canonical field of a message. Insertion order matters:
	// it is the exact order used to rebuild the signed-data string.
	Field struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	// Message is a normalized federation message: a typed, ordered field
	// mapping plus the per-message signatures pulled aside during
	// normalization. Signature fields never appear in Fields.
	Message struct {
		Type                  MessageType `json:"type"`
		Fields                []Field     `json:"fields"`
		AuthorSignature       []byte      `json:"author_signature,omitempty"`
		ParentAuthorSignature []byte      `json:"parent_author_signature,omitempty"`
	}
)

const (
	TypeAccountMigration  MessageType = "account_migration"
	TypeAccountDeletion   MessageType = "account_deletion"
	TypeComment           MessageType = "comment"
	TypeContact           MessageType = "contact"
	TypeConversation      MessageType = "conversation"
	TypeLike              MessageType = "like"
	TypeMessage           MessageType = "message"
	TypeParticipation     MessageType = "participation"
	TypePhoto             MessageType = "photo"
	TypePollParticipation MessageType = "poll_participation"
	TypeProfile           MessageType = "profile"
	TypeReshare           MessageType = "reshare"
	TypeRetraction        MessageType = "retraction"
	TypeStatusMessage     MessageType = "status_message"
)

// Get returns the value of the first field with the given name, or "".
func (m *Message) Get(name string) string {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Add appends a field, preserving insertion order.
func (m *Message) Add(name, value string) {
	m.Fields = append(m.Fields, Field{Name: name, Value: value})
}

// Author is the declared author handle of the message.
func (m *Message) Author() string {
	return m.Get("author")
}

// GUID is the message's globally unique identifier, if it carries one.
func (m *Message) GUID() string {
	return m.Get("guid")
}

// SignedText is the string per-message signatures are computed over: the
// field values joined by ";" in insertion order. Signature fields are kept
// out of Fields, so no exclusion is needed here.
func (m *Message) SignedText() string {
	s := ""
	for i, f := range m.Fields {
		if i > 0 {
			s += ";"
		}
		s += f.Value
	}
	return s
}
