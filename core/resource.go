package core

import "context"

// ResourceLocation is the concrete storage location of a resource. URI is a
// human readable identifier (file URI, badger key); Key is the backend
// specific lookup key.
type ResourceLocation struct {
	ResourceID string
	URI        string
	Key        string
}

// ResourceResolver maps an opaque resource id to a storage location. It is
// treated as a pure lookup and must be safe for concurrent use. Failure to
// resolve returns an error of kind ResourceNotFound.
type ResourceResolver interface {
	Resolve(resourceID string) (ResourceLocation, error)
}

// ResourceHandler resolves resources and loads or saves their raw content.
type ResourceHandler interface {
	ResourceResolver
	Load(ctx context.Context, loc ResourceLocation) ([]byte, error)
	Save(ctx context.Context, loc ResourceLocation, data []byte) error
}
