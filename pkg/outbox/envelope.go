package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is a CloudEvents 1.0 envelope, the wire shape persisted (as
// JSON, inside OutboxRecord.Payload) and handed to a Transport.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Time            time.Time       `json:"time"`
	Subject         string          `json:"subject"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`

	// Extension attributes, per spec ("correlationid", "causationid",
	// "branch", "commit", "author", "tenant").
	CorrelationID string `json:"correlationid,omitempty"`
	CausationID   string `json:"causationid,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Commit        string `json:"commit,omitempty"`
	Author        string `json:"author,omitempty"`
	Tenant        string `json:"tenant,omitempty"`
}

// NewEnvelopeParams carries the fields a caller supplies; the rest
// (id, time, specversion, datacontenttype) are filled in by NewEnvelope.
type NewEnvelopeParams struct {
	Type          string
	Source        string
	Subject       string
	Data          interface{}
	CorrelationID string
	CausationID   string
	Branch        string
	Commit        string
	Author        string
	Tenant        string
}

// NewEnvelope builds a CloudEvents envelope from params, marshaling Data
// to JSON. now is injected so callers (and tests) control the Time field
// deterministically.
func NewEnvelope(params NewEnvelopeParams, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(params.Data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Type:            params.Type,
		Source:          params.Source,
		Time:            now,
		Subject:         params.Subject,
		DataContentType: "application/json",
		Data:            data,
		CorrelationID:   params.CorrelationID,
		CausationID:     params.CausationID,
		Branch:          params.Branch,
		Commit:          params.Commit,
		Author:          params.Author,
		Tenant:          params.Tenant,
	}, nil
}
