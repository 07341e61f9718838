package cache

import (
	"context"

	"github.com/matheus3301/ventchat/internal/kv"
)

// load decodes the blob under key. found is false when nothing usable is stored.
func load[T any](ctx context.Context, local *kv.Local, key string) (v T, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return v, false, err
	}
	found = local.Get(ctx, key, &v)
	return v, found, nil
}
