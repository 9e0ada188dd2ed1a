package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"entityfiler/internal/filer"
)

// Publisher is the outbound "publish message" capability.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// MRASOption is the email variant requested after an incorporation.
const MRASOption = "mras"

// EmailRequest queues email notices for a filing: one keyed by the filing
// status and, after an incorporation, one more for the MRAS notice.
type EmailRequest struct {
	Publisher Publisher
	Topic     string
}

// Name implements filer.SideEffect.
func (EmailRequest) Name() string { return "email" }

// Applies implements filer.SideEffect.
func (EmailRequest) Applies(filer.Outcome) bool { return true }

// Run implements filer.SideEffect. A failed variant does not stop the other.
func (e EmailRequest) Run(ctx context.Context, o filer.Outcome) error {
	var options []string
	if o.Has(filer.TypeIncorporationApplication) {
		options = append(options, MRASOption)
	}
	options = append(options, string(o.Filing.Status))
	var errs []error
	for _, option := range options {
		body, err := EmailMessage(o, option)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.Publisher.Publish(ctx, e.Topic, filingKey(o), body); err != nil {
			errs = append(errs, fmt.Errorf("email %s for filing %d: %w", option, o.Filing.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EmailMessage renders {"email":{"filingId","type","option"}}.
func EmailMessage(o filer.Outcome, option string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"email": map[string]any{
			"filingId": o.Filing.ID,
			"type":     o.Filing.FilingType,
			"option":   option,
		},
	})
}

// EventPublication publishes a CloudEvent-shaped record of the filing.
type EventPublication struct {
	Publisher Publisher
	Topic     string
	// APIBase prefixes the event source, e.g. https://api.example/api/v2.
	APIBase string
	Now     func() time.Time
	NewID   func() string
}

// Name implements filer.SideEffect.
func (EventPublication) Name() string { return "event" }

// Applies implements filer.SideEffect.
func (EventPublication) Applies(o filer.Outcome) bool { return o.Business.Identifier != "" }

// Run implements filer.SideEffect.
func (e EventPublication) Run(ctx context.Context, o filer.Outcome) error {
	body, err := json.Marshal(e.Event(o))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := e.Publisher.Publish(ctx, e.Topic, []byte(o.Business.Identifier), body); err != nil {
		return fmt.Errorf("publish event for filing %d: %w", o.Filing.ID, err)
	}
	return nil
}

// Event is the published filing event.
type Event struct {
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	ID              string    `json:"id"`
	Time            string    `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Identifier      string    `json:"identifier"`
	TempIdentifier  string    `json:"tempidentifier,omitempty"`
	Data            EventData `json:"data"`
}

// EventData wraps the filing summary.
type EventData struct {
	Filing EventFiling `json:"filing"`
}

// EventFiling summarizes the filing.
type EventFiling struct {
	Header struct {
		FilingID      int64  `json:"filingId"`
		EffectiveDate string `json:"effectiveDate"`
	} `json:"header"`
	Business struct {
		Identifier string `json:"identifier"`
	} `json:"business"`
	LegalFilings []string `json:"legalFilings"`
}

// Event builds the event for an outcome.
func (e EventPublication) Event(o filer.Outcome) Event {
	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}
	id := uuid.NewString()
	if e.NewID != nil {
		id = e.NewID()
	}
	ev := Event{
		SpecVersion:     "1.x-wip",
		Type:            "bc.registry.business." + o.Filing.FilingType,
		Source:          e.APIBase + "/business/" + o.Business.Identifier + "/filing/" + strconv.FormatInt(o.Filing.ID, 10),
		ID:              id,
		Time:            now.Format(time.RFC3339Nano),
		DataContentType: "application/json",
		Identifier:      o.Business.Identifier,
		TempIdentifier:  o.Filing.TempIdentifier,
	}
	ev.Data.Filing.Header.FilingID = o.Filing.ID
	ev.Data.Filing.Header.EffectiveDate = o.Filing.EffectiveDate.UTC().Format(time.RFC3339)
	ev.Data.Filing.Business.Identifier = o.Business.Identifier
	ev.Data.Filing.LegalFilings = o.Envelope.LegalFilings()
	if ev.Data.Filing.LegalFilings == nil {
		ev.Data.Filing.LegalFilings = []string{}
	}
	return ev
}

func filingKey(o filer.Outcome) []byte {
	return []byte(strconv.FormatInt(o.Filing.ID, 10))
}
