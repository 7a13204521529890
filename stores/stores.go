package stores

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.shiplog.dev/core/metrics"
)

// Endpoint is the URL of a write archive, such as "s3://bucket/prefix/".
// Its scheme selects the Store implementation, and its query arguments are
// parsed by that implementation.
type Endpoint string

// Validate returns an error if the Endpoint is not a well-formed archive URL.
func (e Endpoint) Validate() error {
	var u, err = url.Parse(string(e))
	if err != nil {
		return fmt.Errorf("parsing endpoint %q: %w", string(e), err)
	} else if u.Scheme == "" {
		return fmt.Errorf("endpoint %q is missing a scheme", string(e))
	} else if !strings.HasSuffix(u.Path, "/") {
		return fmt.Errorf("endpoint %q path must end in '/'", string(e))
	}
	return nil
}

// URL returns the parsed Endpoint. It panics if the Endpoint is invalid.
func (e Endpoint) URL() *url.URL {
	var u, err = url.Parse(string(e))
	if err != nil {
		panic(err)
	}
	return u
}

var (
	constructors = make(map[string]Constructor)
	stores       = make(map[Endpoint]*ActiveStore)
	storesMu     sync.RWMutex
)

// RegisterProviders registers store constructors for different storage schemes.
// This should be called during initialization to register all available store types.
func RegisterProviders(providers map[string]Constructor) {
	storesMu.Lock()
	defer storesMu.Unlock()

	for scheme, constructor := range providers {
		constructors[scheme] = constructor
	}
}

// Get returns an ActiveStore for the given Endpoint.
// It will attempt to initialize the store if not already cached.
func Get(ep Endpoint) (*ActiveStore, error) {
	storesMu.RLock()
	if active, ok := stores[ep]; ok {
		storesMu.RUnlock()
		return active, nil
	}
	storesMu.RUnlock()

	storesMu.Lock()
	defer storesMu.Unlock()

	// Double-check after acquiring write lock.
	if active, ok := stores[ep]; ok {
		return active, nil
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	var u = ep.URL()
	constructor, ok := constructors[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}

	store, err := constructor(u)
	if err != nil {
		// Don't cache; we'll retry on the next call.
		return nil, err
	}

	var active = NewActiveStore(ep, store)
	stores[ep] = active
	activeStores.Set(float64(len(stores)))

	return active, nil
}

var (
	activeStores = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metrics.StoreActiveKey,
		Help: "Number of active write archive stores",
	})

	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metrics.StoreOperationDurationKey,
		Help:    "Duration of store operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"store", "operation", "status"})

	storeOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.StoreOperationTotalKey,
		Help: "Total number of store operations",
	}, []string{"store", "operation", "status"})
)
