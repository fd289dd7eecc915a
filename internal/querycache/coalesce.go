package querycache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coalescer lets concurrent misses for the same key share one generation.
type Coalescer struct {
	group singleflight.Group
}

// Do runs fn once per in-flight key. A waiting caller whose ctx is cancelled
// stops waiting; the running generation is not interrupted for the others.
func Do[T any](ctx context.Context, c *Coalescer, key string, fn func() (T, error)) (T, bool, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}
