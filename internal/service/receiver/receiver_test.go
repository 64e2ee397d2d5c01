package receiver

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"social_fed/internal/config"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/magicenv"
	"social_fed/internal/protocol/normalize"
)

type memContent struct {
	mu    sync.Mutex
	items map[string]*model.Item
}

func newMemContent() *memContent {
	return &memContent{items: make(map[string]*model.Item)}
}

func (s *memContent) key(userGUID, guid string) string { return userGUID + "/" + guid }

func (s *memContent) Exists(_ context.Context, userGUID, guid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[s.key(userGUID, guid)]
	return ok, nil
}

func (s *memContent) Insert(_ context.Context, it *model.Item) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[s.key(it.UserGUID, it.GUID)] = it
	return primitive.NewObjectID(), nil
}

func (s *memContent) GetByGUID(_ context.Context, guid string) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.GUID == guid {
			return it, nil
		}
	}
	return nil, nil
}

func (s *memContent) Delete(_ context.Context, userGUID, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, s.key(userGUID, guid))
	return nil
}

func (s *memContent) DeleteByAuthor(_ context.Context, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, it := range s.items {
		if it.Author == author {
			delete(s.items, k)
		}
	}
	return nil
}

func (s *memContent) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type memUsers struct {
	byGUID   map[string]*model.LocalUser
	byHandle map[string]*model.LocalUser
}

func (u *memUsers) GetByGUID(_ context.Context, guid string) (*model.LocalUser, error) {
	return u.byGUID[guid], nil
}

func (u *memUsers) GetByHandle(_ context.Context, handle string) (*model.LocalUser, error) {
	return u.byHandle[handle], nil
}

type memCache struct {
	mu    sync.Mutex
	vals  map[string]string
	locks map[string]string
	seq   int
}

func newMemCache() *memCache {
	return &memCache{vals: make(map[string]string), locks: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vals[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = fmt.Sprint(value)
	return nil
}

func (c *memCache) AcquireLock(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[name]; held {
		return "", false, nil
	}
	c.seq++
	token := strconv.Itoa(c.seq)
	c.locks[name] = token
	return token, true, nil
}

func (c *memCache) ReleaseLock(_ context.Context, name, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[name] == token {
		delete(c.locks, name)
	}
	return nil
}

type memParticipations struct {
	mu      sync.Mutex
	records []model.ParticipationRecord
}

func (p *memParticipations) Create(_ context.Context, rec *model.ParticipationRecord) (primitive.ObjectID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, *rec)
	return primitive.NewObjectID(), nil
}

func (p *memParticipations) DeleteByThread(_ context.Context, threadGUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kept []model.ParticipationRecord
	for _, rec := range p.records {
		if rec.ThreadGUID != threadGUID {
			kept = append(kept, rec)
		}
	}
	p.records = kept
	return nil
}

type memContacts struct {
	mu   sync.Mutex
	rows map[string]*model.FederatedContact
}

func newMemContacts() *memContacts {
	return &memContacts{rows: make(map[string]*model.FederatedContact)}
}

func (s *memContacts) GetByHandle(_ context.Context, handle string) (*model.FederatedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[handle], nil
}

func (s *memContacts) Upsert(_ context.Context, c *model.FederatedContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	s.rows[c.Handle] = c
	return nil
}

func (s *memContacts) SetArchived(_ context.Context, id primitive.ObjectID, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.ID == id {
			c.Archived = archived
		}
	}
	return nil
}

func (s *memContacts) UpdateHandle(_ context.Context, oldHandle, newHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.rows[oldHandle]; ok {
		delete(s.rows, oldHandle)
		c.Handle = newHandle
		s.rows[newHandle] = c
	}
	return nil
}

// staticResolver serves identities from memory; no discovery probe.
type staticResolver struct {
	keys     map[string]*rsa.PublicKey
	contacts map[string]*model.FederatedContact
}

func (r *staticResolver) ResolvePublicKey(_ context.Context, handle string) (*rsa.PublicKey, error) {
	if key, ok := r.keys[handle]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, handle)
}

func (r *staticResolver) Contact(_ context.Context, handle string) (*model.FederatedContact, error) {
	if c, ok := r.contacts[handle]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", protocol.ErrKeyResolutionFailure, handle)
}

type recordingDistributor struct {
	mu    sync.Mutex
	calls []string
	tags  [][]string
}

func (d *recordingDistributor) DistributeRelayable(_ context.Context, _ *model.LocalUser, msg *model.Message, _ string, tags []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, msg.GUID())
	d.tags = append(d.tags, tags)
	return nil
}

type fixture struct {
	receiver    *Receiver
	content     *memContent
	users       *memUsers
	cache       *memCache
	parts       *memParticipations
	contacts    *memContacts
	resolver    *staticResolver
	distributor *recordingDistributor
}

func newFixture() *fixture {
	f := &fixture{
		content:     newMemContent(),
		users:       &memUsers{byGUID: map[string]*model.LocalUser{}, byHandle: map[string]*model.LocalUser{}},
		cache:       newMemCache(),
		parts:       &memParticipations{},
		contacts:    newMemContacts(),
		resolver:    &staticResolver{keys: map[string]*rsa.PublicKey{}, contacts: map[string]*model.FederatedContact{}},
		distributor: &recordingDistributor{},
	}
	f.receiver = NewReceiver(
		&config.Config{Enabled: true, Domain: "pod.example.org"},
		f.resolver, f.content, f.users, f.cache, f.parts, f.contacts, f.distributor,
	)
	return f
}

func (f *fixture) addRemote(t *testing.T, handle string) *rsa.PrivateKey {
	t.Helper()
	priv, err := signature.NewRSAKeyPair(1024)
	require.NoError(t, err)
	f.resolver.keys[handle] = &priv.PublicKey
	f.resolver.contacts[handle] = &model.FederatedContact{
		ID:     primitive.NewObjectID(),
		Handle: handle,
	}
	return priv
}

func (f *fixture) addUser(t *testing.T, guid, handle string) (*model.LocalUser, *rsa.PrivateKey) {
	t.Helper()
	priv, err := signature.NewRSAKeyPair(1024)
	require.NoError(t, err)
	pubPEM, err := signature.EncodePublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)
	user := &model.LocalUser{
		GUID:          guid,
		Handle:        handle,
		PrivateKeyPEM: string(signature.EncodePrivateKeyPEM(priv)),
		PublicKeyPEM:  string(pubPEM),
	}
	f.users.byGUID[guid] = user
	f.users.byHandle[handle] = user
	return user, priv
}

func publicEnvelope(t *testing.T, msg *model.Message, handle string, priv *rsa.PrivateKey) []byte {
	t.Helper()
	env, err := magicenv.Build(normalize.RenderXML(msg), handle, priv)
	require.NoError(t, err)
	return magicenv.RenderXML(env)
}

func privateEnvelope(t *testing.T, msg *model.Message, handle string, priv *rsa.PrivateKey, recipient *rsa.PublicKey) []byte {
	t.Helper()
	env, err := magicenv.Build(normalize.RenderXML(msg), handle, priv)
	require.NoError(t, err)
	body, err := magicenv.EncodePrivate(magicenv.RenderXML(env), recipient)
	require.NoError(t, err)
	return body
}

func TestReceivePublicStatusMessageIdempotent(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	msg := &model.Message{Type: model.TypeStatusMessage}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "s1")
	msg.Add("text", "hello federation")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))

	assert.Equal(t, 1, f.content.count())
	it, err := f.content.GetByGUID(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, model.TypeStatusMessage, it.Type)
	assert.Equal(t, "alice@remote.example", it.Author)
	assert.False(t, it.Private)
}

func TestReceivePublicRejectsPrivateOnlyType(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	msg := &model.Message{Type: model.TypeProfile}
	msg.Add("author", "alice@remote.example")
	msg.Add("first_name", "Alice")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	err := f.receiver.ReceivePublic(context.Background(), body)
	require.ErrorIs(t, err, protocol.ErrPrivacyViolation)
	assert.Zero(t, f.content.count())
}

func TestReceivePublicLegacyWire(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	payload := []byte(`<XML><post><status_message><diaspora_handle>alice@remote.example</diaspora_handle><guid>s2</guid><raw_message>old wire</raw_message></status_message></post></XML>`)
	env, err := magicenv.Build(payload, "", alicePriv)
	require.NoError(t, err)
	body := fmt.Sprintf(
		`<diaspora xmlns="%s" xmlns:me="%s"><header><author_id>alice@remote.example</author_id></header>%s</diaspora>`,
		magicenv.NamespaceLegacy, magicenv.NamespaceMagicEnv, magicenv.RenderXML(env))

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), []byte(body)))
	it, err := f.content.GetByGUID(context.Background(), "s2")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "old wire", itemField(it, "text"))
}

func TestReceivePrivateMessage(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")

	msg := &model.Message{Type: model.TypeMessage}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "m1")
	msg.Add("conversation_guid", "conv1")
	msg.Add("text", "psst")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body), "duplicate is a no-op")

	assert.Equal(t, 1, f.content.count())
	it, err := f.content.GetByGUID(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.True(t, it.Private)
	assert.Equal(t, "bob-guid", it.UserGUID)
	assert.Empty(t, f.cache.locks, "mail guard must be released")
}

func TestReceivePrivateUnknownUser(t *testing.T) {
	f := newFixture()
	err := f.receiver.ReceivePrivate(context.Background(), "nobody", []byte("{}"))
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestMailGuardHeldByConcurrentDelivery(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")

	msg := &model.Message{Type: model.TypeMessage}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "m2")
	msg.Add("text", "racing")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	_, ok, err := f.cache.AcquireLock(context.Background(), "message:m2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	assert.Zero(t, f.content.count(), "held scope must suppress the insert")
}

// A public comment on a thread this node owns is stored and then
// redistributed exactly once, tagged from the root post's body.
func TestRelayableRedistributedByThreadOwner(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	owner, _ := f.addUser(t, "owner-guid", "owner@pod.example.org")

	_, err := f.content.Insert(context.Background(), &model.Item{
		GUID:   "root1",
		Type:   model.TypeStatusMessage,
		Author: owner.Handle,
		Fields: []model.Field{{Name: "text", Value: "my post about #Golang."}},
	})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeComment}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "c1")
	msg.Add("parent_guid", "root1")
	msg.Add("text", "nice")
	sig, err := normalize.SignRelayable(msg, alicePriv)
	require.NoError(t, err)
	msg.AuthorSignature = sig
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))

	require.Len(t, f.distributor.calls, 1)
	assert.Equal(t, "c1", f.distributor.calls[0])
	assert.Equal(t, []string{"golang"}, f.distributor.tags[0])
}

func TestRelayableOnForeignThreadNotRedistributed(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	msg := &model.Message{Type: model.TypeComment}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "c2")
	msg.Add("parent_guid", "unknown-root")
	msg.Add("text", "hi")
	sig, err := normalize.SignRelayable(msg, alicePriv)
	require.NoError(t, err)
	msg.AuthorSignature = sig

	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)
	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	assert.Empty(t, f.distributor.calls)
	assert.Equal(t, 1, f.content.count(), "the comment itself is still stored")
}

func TestRetractionDeletesItemAndParticipations(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	_, err := f.content.Insert(context.Background(), &model.Item{GUID: "s3", Author: "alice@remote.example"})
	require.NoError(t, err)
	_, err = f.parts.Create(context.Background(), &model.ParticipationRecord{ThreadGUID: "s3", Server: "remote.example"})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeRetraction}
	msg.Add("author", "alice@remote.example")
	msg.Add("target_guid", "s3")
	msg.Add("target_type", "Post")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	assert.Zero(t, f.content.count())
	assert.Empty(t, f.parts.records)
}

// A signer can only declare itself as author of destructive messages:
// an envelope signed by mallory must not delete alice's content.
func TestRetractionFromForeignSignerRejected(t *testing.T) {
	f := newFixture()
	malloryPriv := f.addRemote(t, "mallory@evil.example")

	_, err := f.content.Insert(context.Background(), &model.Item{GUID: "s5", Author: "alice@remote.example"})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeRetraction}
	msg.Add("author", "alice@remote.example")
	msg.Add("target_guid", "s5")
	msg.Add("target_type", "Post")
	body := publicEnvelope(t, msg, "mallory@evil.example", malloryPriv)

	err = f.receiver.ReceivePublic(context.Background(), body)
	require.ErrorIs(t, err, protocol.ErrSpoofedAuthor)
	assert.Equal(t, 1, f.content.count(), "the item must survive")
}

func TestPersonRetractionFromForeignSignerRejected(t *testing.T) {
	f := newFixture()
	malloryPriv := f.addRemote(t, "mallory@evil.example")
	contact := &model.FederatedContact{Handle: "alice@remote.example"}
	require.NoError(t, f.contacts.Upsert(context.Background(), contact))

	msg := &model.Message{Type: model.TypeRetraction}
	msg.Add("author", "alice@remote.example")
	msg.Add("target_guid", "alice-guid")
	msg.Add("target_type", "Person")
	body := publicEnvelope(t, msg, "mallory@evil.example", malloryPriv)

	err := f.receiver.ReceivePublic(context.Background(), body)
	require.ErrorIs(t, err, protocol.ErrSpoofedAuthor)
	assert.False(t, contact.Archived)
}

// The thread root's owner has authority over relayed content on its
// thread even though it is not the comment's author.
func TestThreadOwnerMayRetractComment(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")

	_, err := f.content.Insert(context.Background(), &model.Item{GUID: "root9", Author: "alice@remote.example"})
	require.NoError(t, err)
	_, err = f.content.Insert(context.Background(), &model.Item{
		GUID: "c9", Author: "bob@other.example", ParentGUID: "root9", Type: model.TypeComment,
	})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeRetraction}
	msg.Add("author", "alice@remote.example")
	msg.Add("target_guid", "c9")
	msg.Add("target_type", "Comment")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	gone, err := f.content.GetByGUID(context.Background(), "c9")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestAccountDeletionFromForeignSignerRejected(t *testing.T) {
	f := newFixture()
	malloryPriv := f.addRemote(t, "mallory@evil.example")
	contact := &model.FederatedContact{Handle: "alice@remote.example"}
	require.NoError(t, f.contacts.Upsert(context.Background(), contact))
	_, err := f.content.Insert(context.Background(), &model.Item{GUID: "s6", Author: "alice@remote.example"})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeAccountDeletion}
	msg.Add("author", "alice@remote.example")
	body := publicEnvelope(t, msg, "mallory@evil.example", malloryPriv)

	err = f.receiver.ReceivePublic(context.Background(), body)
	require.ErrorIs(t, err, protocol.ErrSpoofedAuthor)
	assert.Equal(t, 1, f.content.count(), "alice's content must survive")
	assert.False(t, contact.Archived)
}

func TestPersonRetractionArchivesContact(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	contact := &model.FederatedContact{Handle: "alice@remote.example"}
	require.NoError(t, f.contacts.Upsert(context.Background(), contact))

	msg := &model.Message{Type: model.TypeRetraction}
	msg.Add("author", "alice@remote.example")
	msg.Add("target_guid", "alice-guid")
	msg.Add("target_type", "Person")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	assert.True(t, contact.Archived)
}

func TestContactUnfollowArchives(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")
	contact := &model.FederatedContact{Handle: "alice@remote.example"}
	require.NoError(t, f.contacts.Upsert(context.Background(), contact))

	msg := &model.Message{Type: model.TypeContact}
	msg.Add("author", "alice@remote.example")
	msg.Add("recipient", "bob@pod.example.org")
	msg.Add("following", "false")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	assert.True(t, contact.Archived)
}

func TestParticipationRecorded(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")

	msg := &model.Message{Type: model.TypeParticipation}
	msg.Add("author", "alice@remote.example")
	msg.Add("guid", "part1")
	msg.Add("parent_guid", "root1")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body), "cache suppresses the duplicate")

	require.Len(t, f.parts.records, 1)
	assert.Equal(t, "root1", f.parts.records[0].ThreadGUID)
	assert.Equal(t, "remote.example", f.parts.records[0].Server)
	assert.Equal(t, f.resolver.contacts["alice@remote.example"].ID, f.parts.records[0].FederatedContactID)
}

func TestParticipationWithoutGUIDRejected(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")

	msg := &model.Message{Type: model.TypeParticipation}
	msg.Add("author", "alice@remote.example")
	msg.Add("parent_guid", "root1")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	err := f.receiver.ReceivePrivate(context.Background(), "bob-guid", body)
	require.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
	assert.Empty(t, f.parts.records)

	// a later guid-less participation for another thread must not be
	// swallowed by a shared cache key either
	msg2 := &model.Message{Type: model.TypeParticipation}
	msg2.Add("author", "alice@remote.example")
	msg2.Add("parent_guid", "root2")
	body2 := privateEnvelope(t, msg2, "alice@remote.example", alicePriv, &bobPriv.PublicKey)
	err = f.receiver.ReceivePrivate(context.Background(), "bob-guid", body2)
	require.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
}

func TestAccountMigrationMovesContact(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	f.resolver.keys["alice@new.example"] = f.resolver.keys["alice@remote.example"]
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")
	require.NoError(t, f.contacts.Upsert(context.Background(), &model.FederatedContact{Handle: "alice@remote.example"}))

	msg := &model.Message{Type: model.TypeAccountMigration}
	msg.Add("author", "alice@new.example")
	msg.Add("old_identity", "alice@remote.example")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	moved, err := f.contacts.GetByHandle(context.Background(), "alice@new.example")
	require.NoError(t, err)
	require.NotNil(t, moved)
	old, err := f.contacts.GetByHandle(context.Background(), "alice@remote.example")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestAccountDeletionDropsContent(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	contact := &model.FederatedContact{Handle: "alice@remote.example"}
	require.NoError(t, f.contacts.Upsert(context.Background(), contact))
	_, err := f.content.Insert(context.Background(), &model.Item{GUID: "s4", Author: "alice@remote.example"})
	require.NoError(t, err)

	msg := &model.Message{Type: model.TypeAccountDeletion}
	msg.Add("author", "alice@remote.example")
	body := publicEnvelope(t, msg, "alice@remote.example", alicePriv)

	require.NoError(t, f.receiver.ReceivePublic(context.Background(), body))
	assert.Zero(t, f.content.count())
	assert.True(t, contact.Archived)
}

func TestProfileUpdatesContact(t *testing.T) {
	f := newFixture()
	alicePriv := f.addRemote(t, "alice@remote.example")
	_, bobPriv := f.addUser(t, "bob-guid", "bob@pod.example.org")
	require.NoError(t, f.contacts.Upsert(context.Background(), &model.FederatedContact{Handle: "alice@remote.example"}))

	msg := &model.Message{Type: model.TypeProfile}
	msg.Add("author", "alice@remote.example")
	msg.Add("first_name", "Alice")
	msg.Add("last_name", "Example")
	msg.Add("image_url", "https://remote.example/alice.png")
	body := privateEnvelope(t, msg, "alice@remote.example", alicePriv, &bobPriv.PublicKey)

	require.NoError(t, f.receiver.ReceivePrivate(context.Background(), "bob-guid", body))
	updated, err := f.contacts.GetByHandle(context.Background(), "alice@remote.example")
	require.NoError(t, err)
	assert.Equal(t, "Alice Example", updated.Name)
	assert.Equal(t, "https://remote.example/alice.png", updated.Photo)
}

func itemField(it *model.Item, name string) string {
	for _, f := range it.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}
