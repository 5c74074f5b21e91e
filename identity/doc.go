// Package identity derives a stable idempotency key from a provider payload.
// Each provider has a preferred id path; when none yields a value the
// extractor falls back to a normalized content hash bucketed into a
// five-minute window, so provider retries collapse to one key while a
// genuinely new payload with identical content eventually earns a new one.
package identity
