package normalize

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"social_fed/internal/model"
)

// RenderXML serializes a message in the modern per-type schema: the root
// tag is the type, children in field order, signatures appended last.
func RenderXML(msg *model.Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<%s>", msg.Type)
	for _, f := range msg.Fields {
		writeElement(&buf, f.Name, f.Value)
	}
	if len(msg.AuthorSignature) > 0 {
		writeElement(&buf, "author_signature", base64.StdEncoding.EncodeToString(msg.AuthorSignature))
	}
	if len(msg.ParentAuthorSignature) > 0 {
		writeElement(&buf, "parent_author_signature", base64.StdEncoding.EncodeToString(msg.ParentAuthorSignature))
	}
	fmt.Fprintf(&buf, "</%s>", msg.Type)
	return buf.Bytes()
}

func writeElement(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "<%s>", name)
	xml.EscapeText(buf, []byte(value))
	fmt.Fprintf(buf, "</%s>", name)
}
