package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format shared by every saga event.
// CorrelationID is minted once per booking and copied verbatim into every
// event of that saga instance; EventID is fresh per event.
type Envelope[T any] struct {
	EventID       string    `json:"eventId"`
	EventName     string    `json:"eventName"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
	Data          T         `json:"data"`
}

// NewEnvelope stamps a fresh event id and the current UTC instant.
func NewEnvelope[T any](name, correlationID string, data T) Envelope[T] {
	return Envelope[T]{
		EventID:       uuid.NewString(),
		EventName:     name,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}
}

func (e Envelope[T]) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// RawEnvelope is the consumer-side view: the body is decoded in two steps so
// the runtime can validate the envelope before the handler sees the payload.
type RawEnvelope struct {
	EventID       string          `json:"eventId"`
	EventName     string          `json:"eventName"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// DecodeRaw parses and validates an envelope. A non-nil error means the
// message is poison: undeserializable or missing required fields.
func DecodeRaw(body []byte) (RawEnvelope, error) {
	var env RawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RawEnvelope{}, fmt.Errorf("envelope decode: %w", err)
	}
	if strings.TrimSpace(env.EventID) == "" {
		return RawEnvelope{}, fmt.Errorf("envelope missing eventId")
	}
	if strings.TrimSpace(env.EventName) == "" {
		return RawEnvelope{}, fmt.Errorf("envelope missing eventName")
	}
	if len(env.Data) == 0 {
		return RawEnvelope{}, fmt.Errorf("envelope missing data")
	}
	return env, nil
}

// DecodeData unmarshals the event-specific body of a raw envelope.
func DecodeData[T any](env RawEnvelope) (T, error) {
	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return data, fmt.Errorf("decode %s data: %w", env.EventName, err)
	}
	return data, nil
}
