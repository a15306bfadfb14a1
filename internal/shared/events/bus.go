package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Lifecycle event types.
const (
	TypeRequestBroadcast  = "request.broadcast"
	TypeRequestResponded  = "request.responded"
	TypeRequestSelected   = "request.selected"
	TypeDonationRecorded  = "donation.recorded"
	TypeRequestSuperseded = "request.superseded"
	TypeFormSubmitted     = "request.form_submitted"
	TypeTransferRequested = "transfer.requested"
	TypeTransferAnswered  = "transfer.answered"
	TypeNoticePublished   = "notice.published"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Actor information
	ActorID   types.ID `json:"actor_id,omitempty"`
	ActorType string   `json:"actor_type,omitempty"` // donor, admin, system

	Data any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID types.ID, actorType string) Event {
	e.ActorID = actorID
	e.ActorType = actorType
	return e
}

// WithCorrelation sets the correlation ID, normally the blood request id.
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Bus appends events to KurrentDB streams.
type Bus struct {
	client *esdb.Client
	prefix string
}

// NewBus dials KurrentDB and fails fast if the server cannot be read.
func NewBus(ctx context.Context, cfg config.KurrentDBConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("kurrentdb connection string: %w", err)
	}
	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("kurrentdb client: %w", err)
	}

	bus := &Bus{client: client, prefix: cfg.StreamPrefix}
	if err := bus.ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return bus, nil
}

func connectionString(cfg config.KurrentDBConfig) string {
	q := url.Values{}
	q.Set("keepAliveInterval", "10000")
	q.Set("keepAliveTimeout", "10000")
	q.Set("maxDiscoverAttempts", "3")
	if cfg.Insecure {
		q.Set("tls", "false")
		q.Set("tlsVerifyCert", "false")
	}

	u := url.URL{
		Scheme:   "esdb",
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		RawQuery: q.Encode(),
	}
	if cfg.Username != "" && cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// envelope is stored as esdb metadata; the event payload goes in Data.
type envelope struct {
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ActorID       types.ID  `json:"actor_id,omitempty"`
	ActorType     string    `json:"actor_type,omitempty"`
}

func toEventData(event Event) (esdb.EventData, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return esdb.EventData{}, fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	meta, err := json.Marshal(envelope{
		Source:        event.Source,
		Timestamp:     event.Timestamp,
		CorrelationID: event.CorrelationID,
		ActorID:       event.ActorID,
		ActorType:     event.ActorType,
	})
	if err != nil {
		return esdb.EventData{}, fmt.Errorf("encode %s metadata: %w", event.Type, err)
	}

	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.New()
	}
	return esdb.EventData{
		EventID:     id,
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    meta,
	}, nil
}

// Publish appends event to its stream. Events correlated to a blood request
// share that request's stream so its lifecycle reads in order.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	ed, err := toEventData(event)
	if err != nil {
		return err
	}
	stream := streamName(b.prefix, event)
	if _, err := b.client.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, ed); err != nil {
		return fmt.Errorf("append %s to %s: %w", event.Type, stream, err)
	}
	return nil
}

// streamName maps request.selected with correlation r1 to "<prefix>-request-r1"
// and uncorrelated donation.recorded to "<prefix>-donation-recorded".
func streamName(prefix string, event Event) string {
	if event.CorrelationID != "" {
		return prefix + "-request-" + event.CorrelationID
	}
	return prefix + "-" + strings.ReplaceAll(event.Type, ".", "-")
}

func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health reads one entry from $streams.
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.ping(ctx)
}

func (b *Bus) ping(ctx context.Context) error {
	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("kurrentdb unreachable: %w", err)
	}
	stream.Close()
	return nil
}
