package cache

import (
	"context"
	"encoding/json"
)

// AssetChecker reports whether a generated asset file still exists.
// Implemented by the asset store.
type AssetChecker interface {
	Exists(filename string) bool
}

// AssetValidatingStore downgrades hits whose payload references a missing
// asset file to a miss. A cached image entry is only useful while the PNG it
// points at is still on disk; if the asset was deleted or moved the caller
// must regenerate, not fail.
type AssetValidatingStore struct {
	inner  Store
	assets AssetChecker
}

// NewAssetValidatingStore wraps a store with asset-existence validation.
func NewAssetValidatingStore(inner Store, assets AssetChecker) *AssetValidatingStore {
	return &AssetValidatingStore{inner: inner, assets: assets}
}

func (s *AssetValidatingStore) Get(ctx context.Context, key string) (Result, error) {
	res, err := s.inner.Get(ctx, key)
	if !res.Hit {
		return res, err
	}

	var ref struct {
		Filename string `json:"filename"`
	}
	// Payloads without a filename field pass through untouched.
	if err := json.Unmarshal(res.Entry.Data, &ref); err != nil {
		return res, nil
	}
	if ref.Filename != "" && !s.assets.Exists(ref.Filename) {
		return miss(MissAssetMissing), nil
	}

	return res, nil
}

func (s *AssetValidatingStore) Set(ctx context.Context, key string, payload any) error {
	return s.inner.Set(ctx, key, payload)
}

func (s *AssetValidatingStore) Sweep(ctx context.Context) (int, error) {
	return s.inner.Sweep(ctx)
}
