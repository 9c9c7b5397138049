// Package store implements a document store over Redis: JSON documents at
// slash-separated paths, insertion-ordered collections, and push-based change
// notification via pub/sub.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quizroom/quizroom/internal/errors"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Document is a raw document read back from a collection query.
type Document struct {
	ID   string
	Path string
	Data json.RawMessage
}

func (d Document) Decode(out any) error {
	if err := json.Unmarshal(d.Data, out); err != nil {
		return errors.New(errors.CodePersistence,
			errors.WithMessagef("decode document %s", d.Path),
			errors.WithCause(err))
	}
	return nil
}

// Filter is a top-level field equality predicate applied to query results.
type Filter struct {
	Field  string
	Equals any
}

// Query selects documents of a collection in creation order.
type Query struct {
	Filters []Filter
	Desc    bool
	Limit   int
}

// GetDocument reads the document at path into out. Absent documents yield a
// not_found error.
func (s *Store) GetDocument(ctx context.Context, path string, out any) error {
	raw, err := s.redis.Get(ctx, s.docKey(path)).Bytes()
	if err == redis.Nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("document not found: %s", path))
	}
	if err != nil {
		return errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.New(errors.CodePersistence,
			errors.WithMessagef("decode document %s", path),
			errors.WithCause(err))
	}

	return nil
}

// SetDocument writes the document at path. With merge, named top-level fields
// are patched into the existing document instead of replacing it wholesale.
func (s *Store) SetDocument(ctx context.Context, path string, data any, merge bool) error {
	doc, err := toFields(data)
	if err != nil {
		return err
	}

	if merge {
		var existing map[string]json.RawMessage
		raw, err := s.redis.Get(ctx, s.docKey(path)).Bytes()
		switch {
		case err == redis.Nil:
			// absent: merge against nothing
		case err != nil:
			return errors.New(errors.CodePersistence, errors.WithCause(err))
		default:
			if err := json.Unmarshal(raw, &existing); err != nil {
				return errors.New(errors.CodePersistence,
					errors.WithMessagef("decode document %s", path),
					errors.WithCause(err))
			}
			for k, v := range doc {
				existing[k] = v
			}
			doc = existing
		}
	}

	return s.writeDocument(ctx, path, doc)
}

// AddDocument appends a new document to the collection and returns its
// generated id.
func (s *Store) AddDocument(ctx context.Context, collection string, data any) (string, error) {
	doc, err := toFields(data)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	path := collection + "/" + id
	if err := s.writeDocument(ctx, path, doc); err != nil {
		return "", err
	}

	return id, nil
}

func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	collection, id := splitPath(path)

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.docKey(path))
	if collection != "" {
		pipe.ZRem(ctx, s.colKey(collection), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	s.notify(ctx, path)
	return nil
}

// QueryCollection returns documents of a collection in creation order.
func (s *Store) QueryCollection(ctx context.Context, collection string, q Query) ([]Document, error) {
	key := s.colKey(collection)

	var (
		ids []string
		err error
	)
	if q.Desc {
		ids, err = s.redis.ZRevRange(ctx, key, 0, -1).Result()
	} else {
		ids, err = s.redis.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		path := collection + "/" + id
		raw, err := s.redis.Get(ctx, s.docKey(path)).Bytes()
		if err == redis.Nil {
			continue // index may trail a delete
		}
		if err != nil {
			return nil, errors.New(errors.CodePersistence, errors.WithCause(err))
		}

		d := Document{ID: id, Path: path, Data: raw}
		if !matches(d, q.Filters) {
			continue
		}

		docs = append(docs, d)
		if q.Limit > 0 && len(docs) == q.Limit {
			break
		}
	}

	return docs, nil
}

// Subscribe invokes onChange once with the current state and then once per
// mutation of the path (a document path or a collection path). Updates of a
// single subscription arrive in commit order; distinct subscriptions are
// independent. The returned cancel must be called when the owning scope ends.
func (s *Store) Subscribe(ctx context.Context, path string, onChange func()) (cancel func(), err error) {
	ps := s.redis.Subscribe(ctx, s.changeChannel(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.New(errors.CodePersistence,
			errors.WithMessagef("subscribe %s", path),
			errors.WithCause(err))
	}

	go func() {
		onChange()
		for range ps.Channel() {
			onChange()
		}
	}()

	return func() {
		if err := ps.Close(); err != nil {
			slog.Warn("store: close subscription failed", "path", path, "error", err)
		}
	}, nil
}

func (s *Store) writeDocument(ctx context.Context, path string, doc map[string]json.RawMessage) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	collection, id := splitPath(path)

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.docKey(path), raw, 0)
	if collection != "" {
		// a monotonic per-collection sequence keeps creation order exact even
		// for writes landing on the same clock reading; NX keeps the original
		// position on overwrite
		seq, err := s.redis.Incr(ctx, s.seqKey(collection)).Result()
		if err != nil {
			return errors.New(errors.CodePersistence, errors.WithCause(err))
		}
		pipe.ZAddNX(ctx, s.colKey(collection), redis.Z{
			Score:  float64(seq),
			Member: id,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	s.notify(ctx, path)
	return nil
}

// notify publishes the change on the document channel and its parent
// collection channel. Best effort: a lost notification only delays the next
// snapshot, it cannot corrupt state.
func (s *Store) notify(ctx context.Context, path string) {
	channels := []string{s.changeChannel(path)}
	if collection, _ := splitPath(path); collection != "" {
		channels = append(channels, s.changeChannel(collection))
	}

	for _, ch := range channels {
		if err := s.redis.Publish(ctx, ch, path).Err(); err != nil {
			slog.ErrorContext(ctx, "store: publish change failed", "path", path, "error", err)
		}
	}
}

func (s *Store) docKey(path string) string {
	return fmt.Sprintf("%s:doc:%s", s.prefix, path)
}

func (s *Store) colKey(collection string) string {
	return fmt.Sprintf("%s:col:%s", s.prefix, collection)
}

func (s *Store) seqKey(collection string) string {
	return fmt.Sprintf("%s:seq:%s", s.prefix, collection)
}

func (s *Store) changeChannel(path string) string {
	return fmt.Sprintf("%s:changes:%s", s.prefix, path)
}

func toFields(data any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New(errors.CodePersistence,
			errors.WithMessagef("document data must be an object"),
			errors.WithCause(err))
	}

	return doc, nil
}

func matches(d Document, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}

	var fields map[string]any
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return false
	}

	for _, f := range filters {
		want, err := json.Marshal(f.Equals)
		if err != nil {
			return false
		}
		got, err := json.Marshal(fields[f.Field])
		if err != nil || string(got) != string(want) {
			return false
		}
	}

	return true
}

func splitPath(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
