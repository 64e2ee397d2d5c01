// Package normalize converts a decoded envelope payload into the
// canonical ordered field mapping for its message type and verifies the
// per-message signatures relayed content carries.
package normalize

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	b64 "social_fed/internal/cryptographic/encoding"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/magicenv"
)

// noRelayTypes must declare the same author as the envelope signer;
// relayed types are exempt because a relaying server legitimately signs
// someone else's content.
var noRelayTypes = map[model.MessageType]bool{
	model.TypeStatusMessage: true,
	model.TypeReshare:       true,
	model.TypeProfile:       true,
}

// relayableTypes carry an independent author signature that must be
// verified here, per message rather than per envelope.
var relayableTypes = map[model.MessageType]bool{
	model.TypeComment: true,
	model.TypeLike:    true,
}

// Normalize migrates both historical schemas into one canonical message
// and runs the per-message signature checks. The resolver is only
// consulted for relayed authors that differ from the envelope signer.
func Normalize(ctx context.Context, decoded *model.DecodedMessage, resolver magicenv.KeyResolver) (*model.Message, error) {
	root, err := protocol.ParseXML(decoded.XML)
	if err != nil {
		return nil, err
	}

	// legacy shape: root wraps a post child holding exactly one typed
	// child; modern shape: the root element's tag is the message type
	typed := root
	legacy := false
	if post := root.Child("post"); post != nil {
		legacy = true
		var elems []*protocol.Node
		for i := range post.Children {
			elems = append(elems, &post.Children[i])
		}
		if len(elems) != 1 {
			return nil, fmt.Errorf("%w: legacy post wraps %d children", protocol.ErrMalformedEnvelope, len(elems))
		}
		typed = elems[0]
	}

	msgType := model.MessageType(typed.Name())
	if collapsed, ok := legacyTypes[string(msgType)]; ok {
		msgType = collapsed
	}

	msg := &model.Message{Type: msgType}
	for i := range typed.Children {
		child := &typed.Children[i]
		name := child.Name()
		if legacy {
			name = renameLegacyField(msgType, name)
		}

		switch name {
		case "author_signature":
			msg.AuthorSignature = decodeSignature(child.Value())
		case "parent_author_signature":
			msg.ParentAuthorSignature = decodeSignature(child.Value())
		default:
			msg.Add(name, child.Value())
		}
	}

	if noRelayTypes[msgType] && msg.Author() != decoded.Author {
		return nil, fmt.Errorf("%w: %s declares author %q but envelope is signed by %q",
			protocol.ErrSpoofedAuthor, msgType, msg.Author(), decoded.Author)
	}

	if relayableTypes[msgType] {
		if err := verifyRelayable(ctx, msg, decoded, resolver); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// verifyRelayable checks the signatures a relayed comment or like must
// carry: the author's own signature always, and the relaying server's
// counter-signature when present.
func verifyRelayable(ctx context.Context, msg *model.Message, decoded *model.DecodedMessage, resolver magicenv.KeyResolver) error {
	signedText := []byte(msg.SignedText())

	if len(msg.ParentAuthorSignature) > 0 {
		if !signature.RSAVerify(decoded.AuthorKey, signedText, msg.ParentAuthorSignature) {
			return fmt.Errorf("%w: parent author signature of %s", protocol.ErrSignatureVerificationFailed, decoded.Author)
		}
	}

	if len(msg.AuthorSignature) == 0 {
		return fmt.Errorf("%w: %s without author signature", protocol.ErrSignatureVerificationFailed, msg.Type)
	}

	authorKey := decoded.AuthorKey
	if msg.Author() != decoded.Author {
		var err error
		authorKey, err = resolver.ResolvePublicKey(ctx, msg.Author())
		if err != nil || authorKey == nil {
			return fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, msg.Author())
		}
	}
	if !signature.RSAVerify(authorKey, signedText, msg.AuthorSignature) {
		return fmt.Errorf("%w: author signature of %s", protocol.ErrSignatureVerificationFailed, msg.Author())
	}
	return nil
}

// SignRelayable computes the signature a server adds over a relayable's
// signed-data string, used both for authoring and for re-signing as the
// thread owner.
func SignRelayable(msg *model.Message, privKey *rsa.PrivateKey) ([]byte, error) {
	sig, err := signature.RSASign(privKey, []byte(msg.SignedText()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrCryptoFailure, err)
	}
	return sig, nil
}

// decodeSignature accepts the standard and the urlsafe alphabet; peers
// have emitted both.
func decodeSignature(s string) []byte {
	s = b64.StripWhitespace(s)
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw
	}
	raw, err := b64.Decode(s)
	if err != nil {
		return nil
	}
	return raw
}
