package contenttypes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrNotFound is returned by a Lookup when no content type matches.
	ErrNotFound = errors.New("content type not found")
	// ErrUnresolvable is returned when a reference cannot be mapped to a content type.
	ErrUnresolvable = errors.New("unresolvable content type reference")
)

// ContentType is the normalized reference to the type of a tracked object.
type ContentType struct {
	ID       int64  `json:"id"`
	AppLabel string `json:"app_label"`
	Model    string `json:"model"`
}

// String returns the dotted natural key, e.g. "blog.post".
func (c ContentType) String() string {
	return c.AppLabel + "." + c.Model
}

// Lookup reads content types from the host application's type catalog.
type Lookup interface {
	ContentTypeByID(ctx context.Context, id int64) (ContentType, error)
	ContentTypeByNaturalKey(ctx context.Context, appLabel, model string) (ContentType, error)
}

// Resolver maps the legacy encodings of a type reference (dotted string,
// numeric id, normalized value) onto a ContentType. Successful lookups are
// cached.
type Resolver struct {
	lookup Lookup
	byID   *lru.LRU[int64, ContentType]
	byKey  *lru.LRU[string, ContentType]
}

// NewResolver creates a resolver with an LRU cache of the given size and TTL.
func NewResolver(lookup Lookup, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = 256
	}
	return &Resolver{
		lookup: lookup,
		byID:   lru.NewLRU[int64, ContentType](size, nil, ttl),
		byKey:  lru.NewLRU[string, ContentType](size, nil, ttl),
	}
}

// Resolve normalizes value. Strings are tried first, then integers, then
// already normalized references, which are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, value any) (ContentType, error) {
	switch v := value.(type) {
	case string:
		return r.ResolveString(ctx, v)
	case int:
		return r.ResolveID(ctx, int64(v))
	case int32:
		return r.ResolveID(ctx, int64(v))
	case int64:
		return r.ResolveID(ctx, v)
	case uint32:
		return r.ResolveID(ctx, int64(v))
	case ContentType:
		if v.ID <= 0 {
			return ContentType{}, fmt.Errorf("%w: content type without id", ErrUnresolvable)
		}
		return v, nil
	case *ContentType:
		if v == nil || v.ID <= 0 {
			return ContentType{}, fmt.Errorf("%w: content type without id", ErrUnresolvable)
		}
		return *v, nil
	case nil:
		return ContentType{}, fmt.Errorf("%w: empty reference", ErrUnresolvable)
	default:
		return ContentType{}, fmt.Errorf("%w: unsupported reference type %T", ErrUnresolvable, value)
	}
}

// ResolveString resolves "app_label.model" or a base-10 id.
func (r *Resolver) ResolveString(ctx context.Context, s string) (ContentType, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return r.ResolveID(ctx, id)
	}

	appLabel, model, ok := SplitNaturalKey(s)
	if !ok {
		return ContentType{}, fmt.Errorf("%w: %q is not of the form app_label.model", ErrUnresolvable, s)
	}
	return r.ResolveNaturalKey(ctx, appLabel, model)
}

// ResolveID resolves a content type id.
func (r *Resolver) ResolveID(ctx context.Context, id int64) (ContentType, error) {
	if id <= 0 {
		return ContentType{}, fmt.Errorf("%w: invalid id %d", ErrUnresolvable, id)
	}
	if ct, ok := r.byID.Get(id); ok {
		return ct, nil
	}

	ct, err := r.lookup.ContentTypeByID(ctx, id)
	if err != nil {
		return ContentType{}, lookupError(fmt.Sprintf("id %d", id), err)
	}
	r.remember(ct)
	return ct, nil
}

// ResolveNaturalKey resolves an app label and a model name. The model name
// is matched case-insensitively.
func (r *Resolver) ResolveNaturalKey(ctx context.Context, appLabel, model string) (ContentType, error) {
	model = strings.ToLower(model)
	key := appLabel + "." + model
	if ct, ok := r.byKey.Get(key); ok {
		return ct, nil
	}

	ct, err := r.lookup.ContentTypeByNaturalKey(ctx, appLabel, model)
	if err != nil {
		return ContentType{}, lookupError(key, err)
	}
	r.remember(ct)
	return ct, nil
}

func (r *Resolver) remember(ct ContentType) {
	r.byID.Add(ct.ID, ct)
	r.byKey.Add(ct.AppLabel+"."+strings.ToLower(ct.Model), ct)
}

func lookupError(ref string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnresolvable, ref)
	}
	return fmt.Errorf("lookup content type %s: %w", ref, err)
}

// SplitNaturalKey splits "app_label.model" into its two non-empty parts.
func SplitNaturalKey(s string) (appLabel, model string, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// SplitTableName decomposes a "<app_label>_<model>" table name at the first
// underscore.
func SplitTableName(table string) (appLabel, model string, ok bool) {
	parts := strings.SplitN(table, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
