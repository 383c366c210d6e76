package peers

import (
	"context"
	"net/url"
)

// Paginate follows Link-header pagination until limit items have been
// collected, a page comes back empty, or the server stops advertising a
// next page. Partial results are returned alongside any error so callers
// can keep what arrived before a failure.
func Paginate[T any](ctx context.Context, c *Client, path string, query url.Values, limit int) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}

	items := make([]T, 0, limit)
	var chunk []T
	page, err := c.Get(ctx, path, query, &chunk)
	if err != nil {
		return items, err
	}
	items = append(items, chunk...)

	for len(items) < limit && page.Next != "" && len(chunk) > 0 {
		chunk = nil
		page, err = c.GetAbs(ctx, page.Next, &chunk)
		if err != nil {
			return items, err
		}
		items = append(items, chunk...)
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
