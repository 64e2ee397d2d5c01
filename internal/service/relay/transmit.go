package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/utils/log"
)

const (
	ContentTypePublic  = "application/magic-envelope+xml"
	ContentTypePrivate = "application/json"

	protocolTag = "diaspora"
)

// Transmit delivers one payload to a contact's batch (public) or notify
// (private) endpoint. A contact still inside the retry delay window is
// spooled straight to the queue without a network attempt. 2xx clears
// any dead-peer mark; no response, or a 503 carrying a Retry-After
// header, spools a retry job (unless the caller opted out or the contact
// is a relay) and marks the contact potentially dead; any other status
// is reported without bookkeeping.
func (e *Engine) Transmit(ctx context.Context, contact *model.FederatedContact, payload []byte, publicBatch bool, guid string, noRetry bool) (int, error) {
	if e.cfg.TestMode {
		log.Debug("test mode, delivery suppressed",
			zap.String("handle", contact.Handle), zap.String("guid", guid))
		return model.DeliveryDelivered, nil
	}

	if !noRetry && !contact.IsRelay && !contact.ID.IsZero() {
		if delayed, err := e.queue.WasRecentlyDelayed(ctx, contact.ID.Hex()); err == nil && delayed {
			job := &model.DeliveryJob{
				TargetContactID: contact.ID.Hex(),
				Protocol:        protocolTag,
				Envelope:        payload,
				PublicBatch:     publicBatch,
				GUID:            guid,
			}
			if err := e.queue.EnqueueDelivery(ctx, job); err == nil {
				log.Debug("contact inside retry delay window, delivery spooled",
					zap.String("handle", contact.Handle), zap.String("guid", guid))
				return model.DeliveryQueued, nil
			}
		}
	}

	dest := e.destination(ctx, contact, publicBatch)
	if dest == "" {
		return 0, fmt.Errorf("%w: %s has no %s endpoint",
			protocol.ErrNoDestination, contact.Handle, channelName(publicBatch))
	}

	contentType := ContentTypePrivate
	if publicBatch {
		contentType = ContentTypePublic
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", protocol.ErrTransportFailure, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		e.transientFailure(ctx, contact, payload, publicBatch, guid, noRetry)
		return 0, fmt.Errorf("%w: %s: %v", protocol.ErrTransportFailure, dest, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		// cleared unconditionally; the caller's view of Archived may be
		// stale against the store
		if !contact.ID.IsZero() {
			if err := e.contacts.SetArchived(ctx, contact.ID, false); err != nil {
				log.Error("clearing dead-peer mark failed",
					zap.String("handle", contact.Handle), zap.Error(err))
			}
		}
		return status, nil

	case status == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		e.transientFailure(ctx, contact, payload, publicBatch, guid, noRetry)
		return status, fmt.Errorf("%w: %s answered 503", protocol.ErrTransportFailure, dest)

	default:
		return status, fmt.Errorf("%w: %s answered %d", protocol.ErrTransportFailure, dest, status)
	}
}

// destination resolves the delivery URL, preferring a freshly resolved
// federated record over locally cached fields. Peer implementations move
// endpoints; stale URLs are the main cause of lost deliveries.
func (e *Engine) destination(ctx context.Context, contact *model.FederatedContact, publicBatch bool) string {
	batch, notify := contact.BatchEndpoint, contact.NotifyEndpoint
	if contact.Handle != "" && !contact.IsRelay {
		if fresh, err := e.resolver.Contact(ctx, contact.Handle); err == nil && fresh != nil {
			if fresh.BatchEndpoint != "" {
				batch = fresh.BatchEndpoint
			}
			if fresh.NotifyEndpoint != "" {
				notify = fresh.NotifyEndpoint
			}
		}
	}
	if publicBatch {
		return batch
	}
	return notify
}

func (e *Engine) transientFailure(ctx context.Context, contact *model.FederatedContact, payload []byte, publicBatch bool, guid string, noRetry bool) {
	if !noRetry && !contact.IsRelay {
		job := &model.DeliveryJob{
			TargetContactID: contact.ID.Hex(),
			Protocol:        protocolTag,
			Envelope:        payload,
			PublicBatch:     publicBatch,
			GUID:            guid,
		}
		if err := e.queue.EnqueueDelivery(ctx, job); err != nil {
			log.Error("spooling delivery failed",
				zap.String("handle", contact.Handle), zap.Error(err))
		}
	}
	if !contact.ID.IsZero() {
		if err := e.contacts.SetArchived(ctx, contact.ID, true); err != nil {
			log.Error("dead-peer mark failed",
				zap.String("handle", contact.Handle), zap.Error(err))
		}
	}
}

func channelName(publicBatch bool) string {
	if publicBatch {
		return "batch"
	}
	return "notify"
}
