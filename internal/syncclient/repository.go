package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the outcome of a remote write. Writes are never queued: a
// failed Result means neither the server nor the cache changed.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Collection describes how one entity type maps onto the API and the cache.
type Collection[T any] struct {
	// Name is the cache table.
	Name string
	// Path is the API collection, e.g. "/v1/tasks". Items live at Path/<id>.
	Path string
	// ListKey is the field of the list response holding the items.
	ListKey string
	ID      func(T) string
	// Offline applies a list query to cached items when the server cannot
	// be reached. Nil serves the cache unfiltered.
	Offline func(items []T, query url.Values, now time.Time) []T
}

// Repository keeps one collection in sync with the server.
type Repository[T any] struct {
	remote Remote
	cache  *Cache
	coll   Collection[T]
	logger *zap.Logger
	now    func() time.Time
}

func NewRepository[T any](remote Remote, cache *Cache, coll Collection[T], logger *zap.Logger) *Repository[T] {
	return &Repository[T]{
		remote: remote,
		cache:  cache,
		coll:   coll,
		logger: logger.With(zap.String("collection", coll.Name)),
		now:    time.Now,
	}
}

// FetchAll asks the server first. On success the cache is refreshed with
// the result; on any failure the cached items matching query are returned
// instead. It never returns an error.
func (r *Repository[T]) FetchAll(ctx context.Context, query url.Values) []T {
	path := r.coll.Path
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page map[string]json.RawMessage
	if err := r.remote.Do(ctx, http.MethodGet, path, nil, &page, nil); err != nil {
		r.logger.Warn("fetch failed, serving cache", zap.Error(err))
		return r.offline(ctx, query)
	}
	var items []T
	if err := json.Unmarshal(page[r.coll.ListKey], &items); err != nil {
		r.logger.Warn("unexpected list response, serving cache", zap.Error(err))
		return r.offline(ctx, query)
	}

	if err := r.store(ctx, "", items...); err != nil {
		r.logger.Warn("cache refresh failed", zap.Error(err))
	}
	return items
}

func (r *Repository[T]) offline(ctx context.Context, query url.Values) []T {
	items := r.cached(ctx)
	if r.coll.Offline == nil {
		return items
	}
	return r.coll.Offline(items, query, r.now())
}

func (r *Repository[T]) cached(ctx context.Context) []T {
	entries, err := r.cache.List(ctx, r.coll.Name, "")
	if err != nil {
		r.logger.Warn("read cache", zap.Error(err))
		return nil
	}
	return decodeEntries[T](r.logger, entries)
}

func decodeEntries[T any](logger *zap.Logger, entries []Entry) []T {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Body, &v); err != nil {
			logger.Warn("skip undecodable cache row", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}

func (r *Repository[T]) store(ctx context.Context, scope string, items ...T) error {
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		body, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.coll.Name, err)
		}
		entries = append(entries, Entry{ID: r.coll.ID(it), Body: body})
	}
	return r.cache.PutAll(ctx, r.coll.Name, scope, entries)
}

// Fetch returns one item, from the server if reachable and otherwise from
// the cache. ok is false when neither has it.
func (r *Repository[T]) Fetch(ctx context.Context, id string) (T, bool) {
	var remote T
	err := r.remote.Do(ctx, http.MethodGet, r.coll.Path+"/"+url.PathEscape(id), nil, &remote, nil)
	if err == nil {
		if err := r.store(ctx, "", remote); err != nil {
			r.logger.Warn("cache refresh failed", zap.String("id", id), zap.Error(err))
		}
		return remote, true
	}
	r.logger.Debug("fetch one failed, trying cache", zap.String("id", id), zap.Error(err))

	var cached T
	body, err := r.cache.Get(ctx, r.coll.Name, id)
	if err != nil || body == nil {
		return cached, false
	}
	if err := json.Unmarshal(body, &cached); err != nil {
		return cached, false
	}
	return cached, true
}

// Create posts body under a fresh idempotency key. Use CreateWithKey to
// retry a create whose outcome is unknown.
func (r *Repository[T]) Create(ctx context.Context, body any) Result[T] {
	return r.CreateWithKey(ctx, body, uuid.NewString())
}

func (r *Repository[T]) CreateWithKey(ctx context.Context, body any, key string) Result[T] {
	return r.write(ctx, http.MethodPost, r.coll.Path, body, map[string]string{"Idempotency-Key": key})
}

func (r *Repository[T]) Update(ctx context.Context, id string, patch any) Result[T] {
	return r.write(ctx, http.MethodPatch, r.coll.Path+"/"+url.PathEscape(id), patch, nil)
}

func (r *Repository[T]) write(ctx context.Context, method, path string, body any, headers map[string]string) Result[T] {
	var item T
	if err := r.remote.Do(ctx, method, path, body, &item, headers); err != nil {
		return Result[T]{Err: err}
	}
	if err := r.store(ctx, "", item); err != nil {
		r.logger.Warn("cache refresh failed", zap.Error(err))
	}
	return Result[T]{Value: item}
}

// Delete removes the item on the server, then from the cache.
func (r *Repository[T]) Delete(ctx context.Context, id string) Result[struct{}] {
	if err := r.remote.Do(ctx, http.MethodDelete, r.coll.Path+"/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return Result[struct{}]{Err: err}
	}
	if err := r.cache.Delete(ctx, r.coll.Name, id); err != nil {
		r.logger.Warn("cache delete failed", zap.String("id", id), zap.Error(err))
	}
	return Result[struct{}]{}
}
