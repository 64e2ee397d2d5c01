package normalize

import "social_fed/internal/model"

// legacyTypes maps the historical type tags that collapse into a
// canonical one. Anything absent keeps its own name.
var legacyTypes = map[string]model.MessageType{
	"signed_retraction":    model.TypeRetraction,
	"relayable_retraction": model.TypeRetraction,
	"request":              model.TypeContact,
}

// legacyRenames are the schema-wide field renames applied to a
// legacy-shaped message regardless of type.
var legacyRenames = map[string]string{
	"diaspora_handle":     "author",
	"sender_handle":       "author",
	"recipient_handle":    "recipient",
	"participant_handles": "participants",
	"root_diaspora_id":    "root_author",
}

// legacyTypeRenames are the renames scoped to one message type, applied
// after the schema-wide ones.
var legacyTypeRenames = map[model.MessageType]map[string]string{
	model.TypeStatusMessage: {
		"raw_message": "text",
	},
	model.TypeRetraction: {
		"post_guid":               "target_guid",
		"type":                    "target_type",
		"target_author_signature": "author_signature",
	},
}

func renameLegacyField(t model.MessageType, name string) string {
	if scoped, ok := legacyTypeRenames[t]; ok {
		if renamed, ok := scoped[name]; ok {
			return renamed
		}
	}
	if renamed, ok := legacyRenames[name]; ok {
		return renamed
	}
	return name
}
