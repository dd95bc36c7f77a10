package http

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedPrediction struct {
	label      string
	confidence float64
}

// predictionCache memoizes answers per model. A nil cache never hits.
type predictionCache struct {
	entries *lru.Cache[string, cachedPrediction]
}

func newPredictionCache(size int) (*predictionCache, error) {
	if size <= 0 {
		return &predictionCache{}, nil
	}
	entries, err := lru.New[string, cachedPrediction](size)
	if err != nil {
		return nil, err
	}
	return &predictionCache{entries: entries}, nil
}

func (c *predictionCache) Get(key string) (cachedPrediction, bool) {
	if c.entries == nil {
		return cachedPrediction{}, false
	}
	return c.entries.Get(key)
}

func (c *predictionCache) Add(key string, value cachedPrediction) {
	if c.entries != nil {
		c.entries.Add(key, value)
	}
}

func (c *predictionCache) Purge() {
	if c.entries != nil {
		c.entries.Purge()
	}
}

func (c *predictionCache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// cacheKey spells features in shortest form so "1.0" and "1" share a key.
func cacheKey(modelID string, features []float64) string {
	var b strings.Builder
	b.WriteString(modelID)
	for _, f := range features {
		if f == 0 {
			f = 0 // folds -0
		}
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return b.String()
}
