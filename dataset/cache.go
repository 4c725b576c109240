package dataset

import (
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Cache memoizes parsed tables keyed by path and modification time, so a
// re-uploaded file under the same logical name never serves stale data.
type Cache struct {
	lru    *lru.Cache
	logger *zap.Logger
}

func NewCache(size int, logger *zap.Logger) (*Cache, error) {
	if size <= 0 {
		size = 16
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}
	return &Cache{lru: c, logger: logger}, nil
}

// Load returns the parsed table for path, reusing a cached parse when the
// file has not changed since.
func (c *Cache) Load(path string) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())

	if cached, ok := c.lru.Get(key); ok {
		return cached.(*Table), nil
	}

	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, table)
	c.logger.Debug("Dataset parsed and cached",
		zap.String("path", path),
		zap.Int("rows", len(table.Rows)))
	return table, nil
}
