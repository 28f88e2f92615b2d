package events

import "encoding/json"

// MarshalPayload encodes a typed payload struct to the bytes carried
// inside an Envelope.
func MarshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalPayload decodes an Envelope's payload bytes into a typed
// payload struct.
func UnmarshalPayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MarshalEnvelope encodes a whole envelope, the shape staged into the
// outbox and published to Kafka as-is.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes a consumed Kafka message body into an
// Envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
