// Package relay computes outbound target sets and drives transmission
// with retry and dead-peer bookkeeping.
package relay

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"social_fed/internal/config"
	"social_fed/internal/model"
	"social_fed/internal/utils/log"
)

type (
	// ContactDirectory is the slice of the identity store the engine
	// reads and updates.
	ContactDirectory interface {
		GetByURL(ctx context.Context, url string) (*model.FederatedContact, error)
		GetByID(ctx context.Context, id primitive.ObjectID) (*model.FederatedContact, error)
		Upsert(ctx context.Context, c *model.FederatedContact) error
		SetArchived(ctx context.Context, id primitive.ObjectID, archived bool) error
	}

	LocalContacts interface {
		GetByID(ctx context.Context, id primitive.ObjectID) (*model.LocalContact, error)
	}

	ContactResolver interface {
		Contact(ctx context.Context, handle string) (*model.FederatedContact, error)
		ResolvePublicKey(ctx context.Context, handle string) (*rsa.PublicKey, error)
	}

	Participations interface {
		ListByThread(ctx context.Context, threadGUID string) ([]model.ParticipationRecord, error)
	}

	Subscriptions interface {
		List(ctx context.Context) ([]model.RelaySubscription, error)
	}

	DeliveryQueue interface {
		EnqueueDelivery(ctx context.Context, job *model.DeliveryJob) error
		WasRecentlyDelayed(ctx context.Context, contactID string) (bool, error)
	}

	Engine struct {
		cfg            *config.Config
		contacts       ContactDirectory
		localContacts  LocalContacts
		resolver       ContactResolver
		participations Participations
		subs           Subscriptions
		queue          DeliveryQueue
		client         *http.Client
	}
)

func NewEngine(
	cfg *config.Config,
	contacts ContactDirectory,
	localContacts LocalContacts,
	resolver ContactResolver,
	participations Participations,
	subs Subscriptions,
	queue DeliveryQueue,
	client *http.Client,
) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Engine{
		cfg:            cfg,
		contacts:       contacts,
		localContacts:  localContacts,
		resolver:       resolver,
		participations: participations,
		subs:           subs,
		queue:          queue,
		client:         client,
	}
}

// RelayList merges the relay servers for a post into targets: the static
// server list, plus dynamically subscribed relays when the direct-relay
// policy allows them ("all" scope, or any tag matching the thread's root
// post). Deduplicated by batch endpoint.
func (e *Engine) RelayList(ctx context.Context, tags []string, targets []model.Target) ([]model.Target, error) {
	servers := append([]string{}, e.cfg.RelayServers...)

	if e.cfg.AcceptDirectRelay && e.subs != nil {
		subs, err := e.subs.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if sub.Scope == "all" || tagsMatch(sub.Tags, tags) {
				servers = append(servers, sub.URL)
			}
		}
	}

	for _, server := range servers {
		if e.cfg.IsLocal(server) {
			continue
		}
		c, err := e.relayContact(ctx, server)
		if err != nil {
			return nil, err
		}
		if c.Blocked || c.Archived {
			continue
		}
		targets = mergeTarget(targets, model.Target{
			Batch:     c.BatchEndpoint,
			ContactID: c.ID.Hex(),
			Name:      c.Name,
			Network:   c.Network,
			IsRelay:   true,
		})
	}
	return targets, nil
}

// ParticipantsForThread merges every server participating in a thread
// into targets, preferring the federated record's batch endpoint and
// network when the local contact lacks one.
func (e *Engine) ParticipantsForThread(ctx context.Context, threadGUID string, targets []model.Target) ([]model.Target, error) {
	records, err := e.participations.ListByThread(ctx, threadGUID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		var (
			batch, name, network, contactID string
		)
		if !rec.ContactID.IsZero() {
			lc, err := e.localContacts.GetByID(ctx, rec.ContactID)
			if err != nil {
				return nil, err
			}
			if lc != nil {
				batch = lc.BatchEndpoint
				name = lc.Name
				network = lc.Network
				contactID = lc.ID.Hex()
			}
		}
		if !rec.FederatedContactID.IsZero() {
			fc, err := e.contacts.GetByID(ctx, rec.FederatedContactID)
			if err != nil {
				return nil, err
			}
			if fc != nil {
				if batch == "" {
					batch = fc.BatchEndpoint
				}
				if network == "" {
					network = fc.Network
				}
				if name == "" {
					name = fc.Name
				}
				if contactID == "" {
					contactID = fc.ID.Hex()
				}
			}
		}
		if batch == "" {
			log.Debug("participant without a batch endpoint",
				zap.String("thread", threadGUID), zap.String("server", rec.Server))
			continue
		}
		targets = mergeTarget(targets, model.Target{
			Batch:     batch,
			ContactID: contactID,
			Name:      name,
			Network:   network,
		})
	}
	return targets, nil
}

// relayContact fetches or creates the synthetic contact record for a
// relay server.
func (e *Engine) relayContact(ctx context.Context, server string) (*model.FederatedContact, error) {
	c, err := e.contacts.GetByURL(ctx, server)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	host := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		host = u.Host
	}
	c = &model.FederatedContact{
		Handle:        "relay@" + host,
		URL:           server,
		Name:          host,
		GUID:          uuid.NewString(),
		BatchEndpoint: server + "/receive/public",
		Network:       "diaspora",
		LastRefreshed: time.Now().UTC(),
		IsRelay:       true,
	}
	if err := e.contacts.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// mergeTarget adds t unless a target with the same batch endpoint is
// already present. Contact ids are deliberately not the dedup key: two
// contact rows pointing at one server must still yield one delivery.
func mergeTarget(targets []model.Target, t model.Target) []model.Target {
	for _, existing := range targets {
		if existing.Batch == t.Batch {
			return targets
		}
	}
	return append(targets, t)
}

func tagsMatch(subscribed, post []string) bool {
	for _, s := range subscribed {
		for _, p := range post {
			if s == p {
				return true
			}
		}
	}
	return false
}
