package imagesearch

import (
	"context"
)

// Provider searches a stock image API for landscape photos matching a
// keyword. An empty result slice with a nil error means "no images found"
// and is not a failure.
type Provider interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]string, error)
	Name() string
	Configured() bool
}
