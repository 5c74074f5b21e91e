package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhook-ingest/core"
)

// bucketWindow is the dedup window for content-hash derived ids.
const bucketWindow = 5 * time.Minute

// volatileKeys are envelope fields providers mutate between retries of the
// same delivery. They are stripped before hashing so a retried payload still
// maps to the same derived id.
var volatileKeys = map[string]struct{}{
	"timestamp":        {},
	"time":             {},
	"ts":               {},
	"created_at":       {},
	"create_time":      {},
	"event_time":       {},
	"received_at":      {},
	"sent_at":          {},
	"delivery_attempt": {},
	"delivery_id":      {},
	"x_delivery_id":    {},
}

// Extractor derives the idempotency key for a provider payload. Now is
// overridable for tests; the zero value uses time.Now.
type Extractor struct {
	Now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{Now: time.Now}
}

// EventID returns a stable id for the payload. It prefers the provider's
// native message or event id and falls back to a bucketed content hash.
// Only malformed JSON is an error; a payload missing its id fields is
// still accepted through the fallback.
func (e *Extractor) EventID(provider core.Provider, payload []byte) (string, error) {
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryBadInput, "webhook payload is not valid JSON").
			WithTextCode(core.IngestErrorBadPayload).
			WithMetadata(map[string]any{"provider": provider.String()})
	}

	if id := providerNativeID(provider, parsed); id != "" {
		return id, nil
	}
	return e.fallbackID(parsed), nil
}

func (e *Extractor) fallbackID(parsed any) string {
	normalized := stripVolatile(parsed)
	canonical, err := json.Marshal(normalized)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", normalized))
	}
	sum := sha256.Sum256(canonical)

	now := time.Now
	if e != nil && e.Now != nil {
		now = e.Now
	}
	bucket := now().UnixMilli() / bucketWindow.Milliseconds()
	return fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), bucket)
}

func providerNativeID(provider core.Provider, parsed any) string {
	switch provider {
	case core.ProviderFacebook:
		if id := lookupString(parsed, "entry", "0", "messaging", "0", "message", "mid"); id != "" {
			return id
		}
		return lookupString(parsed, "entry", "0", "id")
	case core.ProviderInstagram:
		if id := lookupString(parsed, "entry", "0", "messaging", "0", "message", "mid"); id != "" {
			return id
		}
		if id := instagramChangeMessageID(parsed); id != "" {
			return id
		}
		return lookupString(parsed, "entry", "0", "id")
	case core.ProviderWhatsApp:
		return lookupString(parsed, "entry", "0", "changes", "0", "value", "messages", "0", "id")
	case core.ProviderRazorpay:
		if id := lookupString(parsed, "payload", "payment", "entity", "id"); id != "" {
			return id
		}
		return lookupString(parsed, "event")
	case core.ProviderPayPal:
		if id := lookupString(parsed, "id"); id != "" {
			return id
		}
		return lookupString(parsed, "resource", "id")
	default:
		return ""
	}
}

// instagramChangeMessageID scans entry[0].changes[] for a "messages" change
// carrying value.message.mid.
func instagramChangeMessageID(parsed any) string {
	changes, ok := lookup(parsed, "entry", "0", "changes").([]any)
	if !ok {
		return ""
	}
	for _, change := range changes {
		node, ok := change.(map[string]any)
		if !ok {
			continue
		}
		if field, _ := node["field"].(string); field != "messages" {
			continue
		}
		if id := lookupString(node, "value", "message", "mid"); id != "" {
			return id
		}
	}
	return ""
}

func lookupString(value any, path ...string) string {
	str, _ := lookup(value, path...).(string)
	return strings.TrimSpace(str)
}

// lookup walks a decoded JSON value; numeric segments index into arrays.
func lookup(value any, path ...string) any {
	current := value
	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil
			}
			current = next
		case []any:
			index := 0
			if _, err := fmt.Sscanf(segment, "%d", &index); err != nil {
				return nil
			}
			if index < 0 || index >= len(node) {
				return nil
			}
			current = node[index]
		default:
			return nil
		}
	}
	return current
}

func stripVolatile(value any) any {
	switch node := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(node))
		for key, child := range node {
			if _, volatile := volatileKeys[strings.ToLower(key)]; volatile {
				continue
			}
			cleaned[key] = stripVolatile(child)
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(node))
		for _, child := range node {
			cleaned = append(cleaned, stripVolatile(child))
		}
		return cleaned
	default:
		return value
	}
}
