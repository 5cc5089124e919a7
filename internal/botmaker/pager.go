package botmaker

import "context"

// Page is one response of a cursor-paginated listing endpoint.
type Page[T any] struct {
	Items    []T
	NextPage string
}

// FetchFunc loads the page at cursor. An empty cursor means the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Stream follows NextPage until it is absent, passing every item to yield. When limit is
// positive it stops after that many items. It returns the number of items yielded.
func Stream[T any](ctx context.Context, fetch FetchFunc[T], limit int, yield func(T) error) (int, error) {
	total := 0
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return total, err
		}
		for _, item := range page.Items {
			if err := yield(item); err != nil {
				return total, err
			}
			total++
			if limit > 0 && total >= limit {
				return total, nil
			}
		}
		if page.NextPage == "" {
			return total, nil
		}
		cursor = page.NextPage
	}
}
