package receiver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/dispatch"
	"social_fed/internal/utils/log"
)

func (r *Receiver) registerHandlers() {
	r.dispatcher.Register(model.TypeStatusMessage, r.handleInsert)
	r.dispatcher.Register(model.TypeReshare, r.handleInsert)
	r.dispatcher.Register(model.TypePhoto, r.handleInsert)
	r.dispatcher.Register(model.TypePollParticipation, r.handleInsert)
	r.dispatcher.Register(model.TypeConversation, r.handleInsert)
	r.dispatcher.Register(model.TypeComment, r.handleRelayable)
	r.dispatcher.Register(model.TypeLike, r.handleRelayable)
	r.dispatcher.Register(model.TypeMessage, r.handleMail)
	r.dispatcher.Register(model.TypeParticipation, r.handleParticipation)
	r.dispatcher.Register(model.TypeRetraction, r.handleRetraction)
	r.dispatcher.Register(model.TypeContact, r.handleContact)
	r.dispatcher.Register(model.TypeProfile, r.handleProfile)
	r.dispatcher.Register(model.TypeAccountDeletion, r.handleAccountDeletion)
	r.dispatcher.Register(model.TypeAccountMigration, r.handleAccountMigration)
}

// handleInsert is the idempotent store-once handler shared by the
// content-bearing types without relay semantics.
func (r *Receiver) handleInsert(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	_, err := r.insertOnce(ctx, del, msg)
	return err
}

// handleRelayable stores a comment or like and, when this node owns the
// thread root, re-signs and redistributes it to the thread's audience.
func (r *Receiver) handleRelayable(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	inserted, err := r.insertOnce(ctx, del, msg)
	if err != nil || !inserted {
		return err
	}

	parentGUID := msg.Get("parent_guid")
	if parentGUID == "" || del.Private {
		return nil
	}

	root, err := r.content.GetByGUID(ctx, parentGUID)
	if err != nil || root == nil {
		return err
	}
	owner, err := r.users.GetByHandle(ctx, root.Author)
	if err != nil || owner == nil {
		return err
	}

	// memoized so two concurrent deliveries of the same relayable do not
	// both fan out; a benign race sending twice is acceptable
	dedupeKey := "distributed:" + msg.GUID()
	if v, err := r.cache.Get(ctx, dedupeKey); err == nil && v != "" {
		return nil
	}
	if err := r.distributor.DistributeRelayable(ctx, owner, msg, parentGUID, extractTags(rootText(root))); err != nil {
		return err
	}
	if err := r.cache.Set(ctx, dedupeKey, "1", dedupeTTL); err != nil {
		log.Warn("distribution memo failed", zap.String("guid", msg.GUID()), zap.Error(err))
	}
	return nil
}

// handleMail inserts a private conversational message under a named
// mutual-exclusion scope so two concurrent deliveries of the same GUID
// cannot both insert. The lock spans the existence check and the insert
// and is released on every exit path.
func (r *Receiver) handleMail(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	guid := msg.GUID()
	if guid == "" {
		return fmt.Errorf("%w: message without guid", protocol.ErrMalformedEnvelope)
	}

	token, ok, err := r.cache.AcquireLock(ctx, "message:"+guid, lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		// a concurrent delivery of the same message holds the scope
		return nil
	}
	defer func() {
		if err := r.cache.ReleaseLock(ctx, "message:"+guid, token); err != nil {
			log.Error("lock release failed", zap.String("guid", guid), zap.Error(err))
		}
	}()

	exists, err := r.content.Exists(ctx, del.UserGUID, guid)
	if err != nil || exists {
		return err
	}
	_, err = r.content.Insert(ctx, r.itemFrom(del, msg))
	return err
}

// handleParticipation records which server wants follow-up updates for a
// thread. The cache suppresses duplicate records within the expiry
// window; a benign race creating two is not a correctness bug.
func (r *Receiver) handleParticipation(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	guid := msg.GUID()
	if guid == "" {
		return fmt.Errorf("%w: participation without guid", protocol.ErrMalformedEnvelope)
	}
	cacheKey := "participation:" + guid
	if v, err := r.cache.Get(ctx, cacheKey); err == nil && v != "" {
		return nil
	}

	rec := &model.ParticipationRecord{
		ThreadGUID: msg.Get("parent_guid"),
		Server:     handleDomain(msg.Author()),
	}
	if fc, err := r.resolver.Contact(ctx, msg.Author()); err == nil && fc != nil {
		rec.FederatedContactID = fc.ID
	}
	if _, err := r.participations.Create(ctx, rec); err != nil {
		return err
	}
	return r.cache.Set(ctx, cacheKey, "1", dedupeTTL)
}

// handleRetraction deletes the target item and the thread's
// participation records; a Person retraction archives the contact. The
// declared author is untrusted: deletion requires the envelope signer to
// be the target's author, or the thread owner for a relayed target.
func (r *Receiver) handleRetraction(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	targetGUID := msg.Get("target_guid")
	if targetGUID == "" {
		return fmt.Errorf("%w: retraction without target_guid", protocol.ErrMalformedEnvelope)
	}

	if strings.EqualFold(msg.Get("target_type"), "person") {
		if msg.Author() != del.Sender {
			return fmt.Errorf("%w: retraction of %q signed by %q",
				protocol.ErrSpoofedAuthor, msg.Author(), del.Sender)
		}
		return r.archiveContact(ctx, msg.Author(), true)
	}

	target, err := r.content.GetByGUID(ctx, targetGUID)
	if err != nil || target == nil {
		return err
	}
	if !r.senderMayRetract(ctx, del.Sender, target) {
		return fmt.Errorf("%w: %s may not retract %s",
			protocol.ErrSpoofedAuthor, del.Sender, targetGUID)
	}

	if err := r.content.Delete(ctx, del.UserGUID, targetGUID); err != nil {
		return err
	}
	return r.participations.DeleteByThread(ctx, targetGUID)
}

// senderMayRetract reports whether sender has authority over target: the
// item's own author always does, and for a relayed comment or like the
// owner of the thread root does too.
func (r *Receiver) senderMayRetract(ctx context.Context, sender string, target *model.Item) bool {
	if target.Author == sender {
		return true
	}
	if target.ParentGUID == "" {
		return false
	}
	root, err := r.content.GetByGUID(ctx, target.ParentGUID)
	return err == nil && root != nil && root.Author == sender
}

// handleContact processes a sharing notification: following refreshes
// the cached contact, unfollowing archives it.
func (r *Receiver) handleContact(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	if _, err := r.resolver.Contact(ctx, msg.Author()); err != nil {
		return err
	}
	following := msg.Get("following") != "false"
	return r.archiveContact(ctx, msg.Author(), !following)
}

func (r *Receiver) handleProfile(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	fc, err := r.contacts.GetByHandle(ctx, msg.Author())
	if err != nil {
		return err
	}
	if fc == nil {
		fc, err = r.resolver.Contact(ctx, msg.Author())
		if err != nil {
			return err
		}
	}

	name := strings.TrimSpace(msg.Get("first_name") + " " + msg.Get("last_name"))
	if name != "" {
		fc.Name = name
	}
	if photo := msg.Get("image_url"); photo != "" {
		fc.Photo = photo
	}
	return r.contacts.Upsert(ctx, fc)
}

// handleAccountDeletion drops everything the account authored and
// archives its contact record. Only the account itself may send this;
// a signer declaring someone else's handle is spoofing.
func (r *Receiver) handleAccountDeletion(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	author := msg.Author()
	if author != del.Sender {
		return fmt.Errorf("%w: account_deletion for %q signed by %q",
			protocol.ErrSpoofedAuthor, author, del.Sender)
	}
	if err := r.content.DeleteByAuthor(ctx, author); err != nil {
		return err
	}
	return r.archiveContact(ctx, author, true)
}

// handleAccountMigration moves contact records from the sending handle
// to the declared new one.
func (r *Receiver) handleAccountMigration(ctx context.Context, del dispatch.Delivery, msg *model.Message) error {
	newHandle := msg.Author()
	if newHandle == "" || newHandle == del.Sender {
		return fmt.Errorf("%w: migration without a new handle", protocol.ErrMalformedEnvelope)
	}
	return r.contacts.UpdateHandle(ctx, del.Sender, newHandle)
}

// insertOnce stores the message as an item unless the same GUID was
// already received; reports whether a new item was written.
func (r *Receiver) insertOnce(ctx context.Context, del dispatch.Delivery, msg *model.Message) (bool, error) {
	guid := msg.GUID()
	if guid == "" {
		return false, fmt.Errorf("%w: %s without guid", protocol.ErrMalformedEnvelope, msg.Type)
	}

	exists, err := r.content.Exists(ctx, del.UserGUID, guid)
	if err != nil || exists {
		return false, err
	}
	if _, err := r.content.Insert(ctx, r.itemFrom(del, msg)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Receiver) itemFrom(del dispatch.Delivery, msg *model.Message) *model.Item {
	return &model.Item{
		UserGUID:   del.UserGUID,
		GUID:       msg.GUID(),
		Type:       msg.Type,
		Author:     msg.Author(),
		ParentGUID: msg.Get("parent_guid"),
		Fields:     msg.Fields,
		Private:    del.Private,
		ReceivedAt: r.now().UTC(),
	}
}

func (r *Receiver) archiveContact(ctx context.Context, handle string, archived bool) error {
	fc, err := r.contacts.GetByHandle(ctx, handle)
	if err != nil || fc == nil {
		return err
	}
	return r.contacts.SetArchived(ctx, fc.ID, archived)
}

func handleDomain(handle string) string {
	if i := strings.IndexByte(handle, '@'); i >= 0 {
		return handle[i+1:]
	}
	return handle
}

func rootText(it *model.Item) string {
	for _, f := range it.Fields {
		if f.Name == "text" {
			return f.Value
		}
	}
	return ""
}

// extractTags pulls the #hashtags out of a post body for relay-scope
// matching.
func extractTags(text string) []string {
	var tags []string
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			tags = append(tags, strings.ToLower(strings.Trim(word[1:], ".,!?;:")))
		}
	}
	return tags
}
