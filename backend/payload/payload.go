package payload

// Payload is an opaque, serialized value. The engine never inspects payloads,
// it only moves them between history events and activity handlers.
type Payload []byte
