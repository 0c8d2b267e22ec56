// Package source fetches raw event listings from external providers.
package source

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/model"
	"github.com/tidwall/gjson"
)

// RawRecord is one provider listing, still in the provider's own shape.
type RawRecord = json.RawMessage

// Adapter fetches one provider's listings.
type Adapter interface {
	Name() string
	Tag() model.SourceTag
	// Timezone is the declared zone of the provider's local times; empty
	// means the pipeline default applies.
	Timezone() string
	Fetch(ctx context.Context) ([]RawRecord, error)
}

// FromConfig builds an adapter per enabled source.
func FromConfig(sources []config.Source, opts ...Option) ([]Adapter, error) {
	out := make([]Adapter, 0, len(sources))
	for _, sc := range sources {
		if sc.Disabled {
			continue
		}
		switch sc.Kind {
		case config.KindHTTP:
			out = append(out, NewHTTPAdapter(sc, opts...))
		case config.KindFile:
			out = append(out, NewFileAdapter(sc, opts...))
		default:
			return nil, fmt.Errorf("%w: %q for source %s", ErrUnknownKind, sc.Kind, sc.Name)
		}
	}
	return out, nil
}

// extract returns the array at path (the body itself when path is empty). A
// missing path yields no records.
func extract(body []byte, path string) ([]RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedBody)
	}
	res := gjson.ParseBytes(body)
	if path != "" {
		res = res.Get(path)
	}
	if !res.Exists() {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: %q is not an array", ErrMalformedBody, path)
	}
	var out []RawRecord
	res.ForEach(func(_, v gjson.Result) bool {
		out = append(out, RawRecord(v.Raw))
		return true
	})
	return out, nil
}
