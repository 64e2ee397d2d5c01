package model

import "time"

type (
	// DeliveryJob is a spooled outbound transmission, created when a
	// transmit attempt fails transiently and consumed by an external
	// retry driver.
	DeliveryJob struct {
		TargetContactID string    `json:"target_contact_id"`
		Protocol        string    `json:"protocol"`
		Envelope        []byte    `json:"envelope"`
		PublicBatch     bool      `json:"public_batch"`
		GUID            string    `json:"guid"`
		CreatedAt       time.Time `json:"created_at"`
	}

	// Target is one resolved delivery destination, deduplicated by batch
	// endpoint when target sets are merged.
	Target struct {
		Batch     string `json:"batch"`
		ContactID string `json:"contact_id"`
		Name      string `json:"name"`
		Network   string `json:"network"`
		IsRelay   bool   `json:"is_relay"`
	}
)

// Delivery outcome codes returned by the relay engine.
const (
	DeliveryDelivered = 200
	DeliveryQueued    = 202
	DeliveryFailed    = 0
)
