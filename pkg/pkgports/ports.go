package pkgports

import "context"

// Receiver port describes a message queue consumer generic over the decoded
// value type and the broker's raw message type
//
// values are read with Consume and must be committed with either OnSuccess or OnFail
type Receiver[Value any, Message any] interface {
	Consume(ctx context.Context) (Value, Message, error)
	OnSuccess(ctx context.Context, msg Message) error
	OnFail(ctx context.Context, retry bool, msg Message) error
}

// Cache describes a cache that might be implemented with different storages
// (e.g. in-memory, redis) and mechanisms (e.g. LRU)
//
// Delete lets writers invalidate a key they have just made stale
type Cache[Key comparable, Value any] interface {
	Get(ctx context.Context, key Key) (Value, bool, error)
	Set(ctx context.Context, key Key, value Value) error
	Delete(ctx context.Context, key Key) error
}
