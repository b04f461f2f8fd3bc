// Package queue carries import envelopes from the submission API to workers.
//
// Two transports are supported behind the same Receiver/Sender interfaces:
//
//   - PubSub: Redis Pub/Sub broadcast. Every subscribed worker sees every
//     envelope; the worker's status guard and conditional claim are what
//     prevent double processing.
//   - Stream: Redis Streams with a consumer group. Each envelope goes to one
//     worker, which must Ack it; unacknowledged envelopes become visible
//     again after the visibility timeout.
//
// Acknowledgement is an optional capability (Acknowledger). The pipeline does
// not branch per transport beyond checking for it.
package queue

import (
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

// Envelope is the decoded message referencing one import job.
type Envelope struct {
	JobID     string         `json:"job_id"`
	LocalPath string         `json:"local_path,omitempty"`
	RemoteKey string         `json:"remote_key,omitempty"`
	FileName  string         `json:"nombre_archivo,omitempty"`
	Usuario   string         `json:"usuario_registro,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Delivery side channel, set by the worker from the transport. Never part
	// of the payload and never interpreted as business data.
	MessageID string `json:"-"`
	Handle    string `json:"-"`
	Attempts  int64  `json:"-"`
}

// IsRedelivery reports whether a pull transport handed this message out
// before without it being acknowledged.
func (e *Envelope) IsRedelivery() bool {
	return e.Handle != "" && e.Attempts > 1
}

// Retries returns metadata.reintentos, the job attempt the envelope was
// published for. Envelopes without it belong to the first attempt.
func (e *Envelope) Retries() int {
	n, ok := e.metadataInt("reintentos")
	if !ok {
		return 0
	}
	return n
}

// IsRemote reports whether the file lives in object storage.
func (e *Envelope) IsRemote() bool {
	return e.RemoteKey != ""
}

// TotalRows returns metadata.total_filas when present and numeric.
func (e *Envelope) TotalRows() (int, bool) {
	return e.metadataInt("total_filas")
}

func (e *Envelope) metadataInt(key string) (int, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), n >= 0
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil && i >= 0
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil && i >= 0
	default:
		return 0, false
	}
}

// DecodeEnvelope accepts UTF-8 JSON bytes, JSON text or an already decoded
// map. Anything else, malformed JSON, a non-object document or a missing
// job_id yields no envelope.
func DecodeEnvelope(raw any) (*Envelope, bool) {
	var data []byte

	switch v := raw.(type) {
	case []byte:
		if !utf8.Valid(v) {
			return nil, false
		}
		data = v
	case json.RawMessage:
		if !utf8.Valid(v) {
			return nil, false
		}
		data = v
	case string:
		data = []byte(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		data = b
	default:
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.JobID == "" {
		return nil, false
	}
	return &env, true
}
