package dnsquery_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ao-appcluster/appcluster/internal/dnsquery"
)

func TestResolverCache_GetIsIdempotent(t *testing.T) {
	t.Parallel()

	rc := dnsquery.NewResolverCache()

	r1, err := rc.Get("127.0.0.1")
	require.NoError(t, err)

	r2, err := rc.Get("127.0.0.1")
	require.NoError(t, err)

	assert.Same(t, r1, r2)
}

func TestResolverCache_TrailingDotInsensitiveKey(t *testing.T) {
	t.Parallel()

	rc := dnsquery.NewResolverCache()

	r1, err := rc.Get("127.0.0.1")
	require.NoError(t, err)
	r2, err := rc.Get("127.0.0.1.")
	require.NoError(t, err)

	assert.Same(t, r1, r2)
}

func TestResolverCache_ConcurrentGetSameHostname(t *testing.T) {
	t.Parallel()

	rc := dnsquery.NewResolverCache()

	var wg sync.WaitGroup
	results := make([]*dnsquery.Resolver, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := rc.Get("127.0.0.1")
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
