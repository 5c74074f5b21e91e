// Package core contains the canonical webhook-ingestion domain contracts and
// entities. Lower-level adapters (stores, verification templates, queue
// integrations) must depend on this package; core must not depend on
// provider-specific or transport-specific adapters.
package core
