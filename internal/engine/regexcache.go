package engine

import (
	"log/slog"
	"regexp"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultRegexCacheSize is the number of compiled patterns kept.
const DefaultRegexCacheSize = 4096

// compiledPattern caches both outcomes of compiling a pattern, so an
// invalid pattern is not recompiled for every transaction.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// regexCache memoizes regexp compilation keyed by (pattern, case flag).
//
// Backed by ristretto, which is safe for concurrent use from batch
// workers. A miss just compiles; Set is asynchronous, so a value may not
// be visible to the very next Get.
type regexCache struct {
	cache *ristretto.Cache[string, compiledPattern]
}

func newRegexCache(size int64) *regexCache {
	if size <= 0 {
		return &regexCache{}
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, compiledPattern]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true, // MaxCost counts patterns, each Set costs 1
	})
	if err != nil {
		slog.Warn("regex cache disabled", "error", err)
		return &regexCache{}
	}
	return &regexCache{cache: cache}
}

// compile returns the compiled form of pattern. Unless caseSensitive is
// set the pattern is compiled with the (?i) flag.
func (c *regexCache) compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := "i:" + pattern
	if caseSensitive {
		key = "s:" + pattern
	}
	if c.cache != nil {
		if hit, ok := c.cache.Get(key); ok {
			return hit.re, hit.err
		}
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if c.cache != nil {
		c.cache.Set(key, compiledPattern{re: re, err: err}, 1)
	}
	return re, err
}

func (c *regexCache) close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
