package ingress

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nexusfix/exchange/internal/engine"
)

// Idempotency suppresses duplicate NewOrder submissions: the same
// (ClientID, ClOrdID) pair seen twice within the TTL window is treated
// as a resend rather than a second order.
type Idempotency struct {
	cache *gocache.Cache
}

// NewIdempotency builds an Idempotency cache with the given TTL.
func NewIdempotency(ttl time.Duration) *Idempotency {
	return &Idempotency{cache: gocache.New(ttl, ttl*2)}
}

func key(clientID engine.ClientID, clOrdID string) string {
	return clientID.String() + "\x00" + clOrdID
}

// SeenBefore records (clientID, clOrdID) if novel and reports whether
// it had already been recorded.
func (i *Idempotency) SeenBefore(clientID engine.ClientID, clOrdID string) bool {
	if clOrdID == "" {
		return false // nothing to dedupe against
	}
	k := key(clientID, clOrdID)
	if _, found := i.cache.Get(k); found {
		return true
	}
	i.cache.SetDefault(k, struct{}{})
	return false
}
