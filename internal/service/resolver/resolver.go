// Package resolver maps a federation handle to its current public key and
// delivery endpoints, caching discovery results in the contact store.
package resolver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/utils/log"
)

// RefreshAfter is the staleness policy: a cached contact older than this,
// or one missing a GUID, triggers a fresh discovery probe.
const RefreshAfter = 14 * 24 * time.Hour

type (
	// ContactStore is the slice of the identity store the resolver needs.
	ContactStore interface {
		GetByHandle(ctx context.Context, handle string) (*model.FederatedContact, error)
		Upsert(ctx context.Context, c *model.FederatedContact) error
	}

	Resolver struct {
		contacts ContactStore
		client   *http.Client
		now      func() time.Time
	}

	// profileDocument is the discovery probe's JSON response.
	profileDocument struct {
		GUID      string `json:"guid"`
		Name      string `json:"name"`
		Photo     string `json:"photo"`
		URL       string `json:"url"`
		Batch     string `json:"batch"`
		Notify    string `json:"notify"`
		PublicKey string `json:"public_key"`
	}
)

func NewResolver(contacts ContactStore, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Resolver{
		contacts: contacts,
		client:   client,
		now:      time.Now,
	}
}

// ResolvePublicKey implements the key-resolution contract envelope
// verification depends on. Misses surface as ErrKeyResolutionFailure.
func (r *Resolver) ResolvePublicKey(ctx context.Context, handle string) (*rsa.PublicKey, error) {
	c, err := r.Contact(ctx, handle)
	if err != nil {
		return nil, err
	}
	if c.PublicKeyPEM == "" {
		return nil, fmt.Errorf("%w: %s has no key", protocol.ErrKeyResolutionFailure, handle)
	}

	pubKey, err := signature.ParsePublicKeyPEM([]byte(c.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrKeyResolutionFailure, handle, err)
	}
	return pubKey, nil
}

// Contact returns the cached record when fresh, otherwise probes the
// remote server and upserts the result. A failed probe falls back to a
// stale cached record rather than discarding a known identity.
func (r *Resolver) Contact(ctx context.Context, handle string) (*model.FederatedContact, error) {
	cached, err := r.contacts.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.GUID != "" && r.now().Sub(cached.LastRefreshed) < RefreshAfter {
		return cached, nil
	}

	fresh, err := r.probe(ctx, handle)
	if err != nil {
		if cached != nil {
			log.Debug("discovery probe failed, using stale contact",
				zap.String("handle", handle), zap.Error(err))
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrKeyResolutionFailure, handle, err)
	}

	if cached != nil {
		fresh.ID = cached.ID
		fresh.Archived = cached.Archived
		fresh.Blocked = cached.Blocked
	}
	if fresh.GUID == "" {
		fresh.GUID = uuid.NewString()
	}
	if err := r.contacts.Upsert(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r *Resolver) probe(ctx context.Context, handle string) (*model.FederatedContact, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("malformed handle %q", handle)
	}

	probeURL := fmt.Sprintf("https://%s/.well-known/diaspora?handle=%s",
		parts[1], url.QueryEscape(handle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned %d", resp.StatusCode)
	}

	var doc profileDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.PublicKey == "" {
		return nil, fmt.Errorf("profile document without a public key")
	}

	serverURL := doc.URL
	if serverURL == "" {
		serverURL = "https://" + parts[1]
	}
	batch := doc.Batch
	if batch == "" {
		batch = serverURL + "/receive/public"
	}
	notify := doc.Notify
	if notify == "" && doc.GUID != "" {
		notify = serverURL + "/receive/users/" + doc.GUID
	}

	return &model.FederatedContact{
		Handle:         handle,
		URL:            serverURL,
		Name:           doc.Name,
		Photo:          doc.Photo,
		GUID:           doc.GUID,
		PublicKeyPEM:   doc.PublicKey,
		BatchEndpoint:  batch,
		NotifyEndpoint: notify,
		Network:        "diaspora",
		LastRefreshed:  r.now().UTC(),
	}, nil
}
