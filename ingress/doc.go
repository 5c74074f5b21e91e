// Package ingress accepts provider webhook deliveries: verify the signature
// over raw bytes, derive the idempotency key, claim the event, enqueue a job,
// and acknowledge fast. The provider only ever sees 200 or 401; a 5xx leaks
// out only when neither the queue nor the dead-letter store could durably
// record the event.
package ingress
