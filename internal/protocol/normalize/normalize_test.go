package normalize_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/normalize"
)

type staticResolver map[string]*rsa.PublicKey

func (r staticResolver) ResolvePublicKey(_ context.Context, handle string) (*rsa.PublicKey, error) {
	if key, ok := r[handle]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, handle)
}

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return priv
}

func decodedFrom(xml, author string, key *rsa.PublicKey) *model.DecodedMessage {
	return &model.DecodedMessage{XML: []byte(xml), Author: author, AuthorKey: key}
}

// The two wire generations of the same status message must normalize to
// identical canonical fields.
func TestNormalizeLegacyMatchesModern(t *testing.T) {
	legacy := `<XML><post><status_message><diaspora_handle>alice@example.com</diaspora_handle><guid>g1</guid><raw_message>hi there</raw_message><public>true</public></status_message></post></XML>`
	modern := `<status_message><author>alice@example.com</author><guid>g1</guid><text>hi there</text><public>true</public></status_message>`

	ctx := context.Background()
	fromLegacy, err := normalize.Normalize(ctx, decodedFrom(legacy, "alice@example.com", nil), staticResolver{})
	require.NoError(t, err)
	fromModern, err := normalize.Normalize(ctx, decodedFrom(modern, "alice@example.com", nil), staticResolver{})
	require.NoError(t, err)

	assert.Equal(t, model.TypeStatusMessage, fromLegacy.Type)
	assert.Equal(t, fromModern.Type, fromLegacy.Type)
	assert.Equal(t, fromModern.Fields, fromLegacy.Fields)
	assert.Equal(t, "hi there", fromLegacy.Get("text"))
}

func TestCommentSignedTextOrder(t *testing.T) {
	alice := genKey(t)

	msg := &model.Message{Type: model.TypeComment}
	msg.Add("author", "alice@example.com")
	msg.Add("guid", "cguid")
	msg.Add("created_at", "2026-08-28T10:00:00Z")
	msg.Add("parent_guid", "pguid")
	msg.Add("text", "nice post")
	require.Equal(t, "alice@example.com;cguid;2026-08-28T10:00:00Z;pguid;nice post", msg.SignedText())

	sig, err := normalize.SignRelayable(msg, alice)
	require.NoError(t, err)
	msg.AuthorSignature = sig

	// signature fields never contribute to the signed string
	rendered := normalize.RenderXML(msg)
	got, err := normalize.Normalize(context.Background(),
		decodedFrom(string(rendered), "alice@example.com", &alice.PublicKey), staticResolver{})
	require.NoError(t, err)
	assert.Equal(t, msg.SignedText(), got.SignedText())
	assert.Equal(t, sig, got.AuthorSignature)
}

func TestNormalizeRejectsSpoofedAuthor(t *testing.T) {
	xml := `<status_message><author>mallory@evil.example</author><guid>g</guid><text>x</text></status_message>`
	_, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "alice@example.com", nil), staticResolver{})
	require.ErrorIs(t, err, protocol.ErrSpoofedAuthor)
}

func TestRelayableRequiresAuthorSignature(t *testing.T) {
	xml := `<comment><author>alice@example.com</author><guid>c</guid><parent_guid>p</parent_guid><text>x</text></comment>`
	_, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "alice@example.com", nil), staticResolver{})
	require.ErrorIs(t, err, protocol.ErrSignatureVerificationFailed)
}

// A comment relayed through the thread owner's server carries both the
// author's signature and the owner's counter-signature.
func TestRelayedCommentVerifiesBothSignatures(t *testing.T) {
	alice := genKey(t)
	bob := genKey(t)
	resolver := staticResolver{"alice@example.com": &alice.PublicKey}

	msg := &model.Message{Type: model.TypeComment}
	msg.Add("author", "alice@example.com")
	msg.Add("guid", "c1")
	msg.Add("parent_guid", "p1")
	msg.Add("text", "relayed")

	authorSig, err := normalize.SignRelayable(msg, alice)
	require.NoError(t, err)
	parentSig, err := normalize.SignRelayable(msg, bob)
	require.NoError(t, err)

	xml := fmt.Sprintf(
		`<comment><author>alice@example.com</author><guid>c1</guid><parent_guid>p1</parent_guid><text>relayed</text><author_signature>%s</author_signature><parent_author_signature>%s</parent_author_signature></comment>`,
		base64.StdEncoding.EncodeToString(authorSig),
		base64.StdEncoding.EncodeToString(parentSig))

	// envelope was signed by bob, the thread owner
	got, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "bob@example.net", &bob.PublicKey), resolver)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Author())

	// swap in a counter-signature from the wrong key
	badXML := fmt.Sprintf(
		`<comment><author>alice@example.com</author><guid>c1</guid><parent_guid>p1</parent_guid><text>relayed</text><author_signature>%s</author_signature><parent_author_signature>%s</parent_author_signature></comment>`,
		base64.StdEncoding.EncodeToString(authorSig),
		base64.StdEncoding.EncodeToString(authorSig))
	_, err = normalize.Normalize(context.Background(),
		decodedFrom(badXML, "bob@example.net", &bob.PublicKey), resolver)
	require.ErrorIs(t, err, protocol.ErrSignatureVerificationFailed)
}

func TestLegacyRetractionRenames(t *testing.T) {
	alice := genKey(t)
	sig, err := signature.RSASign(alice, []byte("irrelevant"))
	require.NoError(t, err)

	xml := fmt.Sprintf(
		`<XML><post><signed_retraction><post_guid>g9</post_guid><type>StatusMessage</type><sender_handle>alice@example.com</sender_handle><target_author_signature>%s</target_author_signature></signed_retraction></post></XML>`,
		base64.StdEncoding.EncodeToString(sig))

	got, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "alice@example.com", &alice.PublicKey), staticResolver{})
	require.NoError(t, err)
	assert.Equal(t, model.TypeRetraction, got.Type)
	assert.Equal(t, "g9", got.Get("target_guid"))
	assert.Equal(t, "StatusMessage", got.Get("target_type"))
	assert.Equal(t, "alice@example.com", got.Author())
	assert.Equal(t, sig, got.AuthorSignature)
}

func TestLegacyRequestBecomesContact(t *testing.T) {
	xml := `<XML><post><request><sender_handle>alice@example.com</sender_handle><recipient_handle>bob@example.net</recipient_handle></request></post></XML>`
	got, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "alice@example.com", nil), staticResolver{})
	require.NoError(t, err)
	assert.Equal(t, model.TypeContact, got.Type)
	assert.Equal(t, "alice@example.com", got.Author())
	assert.Equal(t, "bob@example.net", got.Get("recipient"))
}

func TestNormalizeRejectsMultiChildLegacyPost(t *testing.T) {
	xml := `<XML><post><status_message/><status_message/></post></XML>`
	_, err := normalize.Normalize(context.Background(),
		decodedFrom(xml, "alice@example.com", nil), staticResolver{})
	require.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
}
