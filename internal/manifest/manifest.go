// Package manifest parses the repository list stored in the manifest
// repository. The list is a JSON array of {"dir": ..., "url": ...} records.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/schaermu/git-repo-sync/internal/validate"
)

var (
	// ErrUnreadable is returned when the manifest file cannot be read or
	// is not valid UTF-8 JSON.
	ErrUnreadable = errors.New("manifest unreadable")
	// ErrShape matches every *ShapeError
	ErrShape = errors.New("invalid shape")
)

// Kind tells which level of the manifest a ShapeError refers to
type Kind string

const (
	KindManifest Kind = "manifest"
	KindRecord   Kind = "record"
)

// ShapeError reports a manifest or record that does not have the expected
// structure. Index is -1 for KindManifest.
type ShapeError struct {
	Kind   Kind
	Index  int
	Value  any
	Reason string
}

func (e *ShapeError) Error() string {
	switch e.Kind {
	case KindManifest:
		return fmt.Sprintf("%s is not a list: %s", describe(e.Value), e.Reason)
	default:
		return fmt.Sprintf("record %d: %s is not a valid repo entry: %s", e.Index, describe(e.Value), e.Reason)
	}
}

// Is makes errors.Is(err, ErrShape) hold for any ShapeError
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

// Record is one validated manifest entry
type Record struct {
	Dir string
	URL string
}

const recordSchema = `{
  "type": "object",
  "required": ["dir", "url"],
  "properties": {
    "dir": {"type": "string", "minLength": 1},
    "url": {"type": "string"}
  }
}`

var schema = jsonschema.MustCompileString("record.schema.json", recordSchema)

// Load reads and parses the manifest file at path
func Load(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Parse(data)
}

// Parse decodes data and requires the top-level value to be an array. The
// elements are returned undecoded so each can be checked on its own with
// ParseRecord. Repeated member names are accepted and the last one wins.
func Parse(data []byte) ([]any, error) {
	var v any
	if err := json.Unmarshal(data, &v, jsontext.AllowDuplicateNames(true)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	list, ok := v.([]any)
	if !ok {
		return nil, &ShapeError{Kind: KindManifest, Index: -1, Value: v, Reason: "top-level value must be an array"}
	}
	return list, nil
}

// ParseRecord checks that raw is an object with a non-empty string "dir" and
// a "url" holding a valid git URL. Extra fields are ignored.
func ParseRecord(index int, raw any) (Record, error) {
	if err := schema.Validate(raw); err != nil {
		var verr *jsonschema.ValidationError
		reason := err.Error()
		if errors.As(err, &verr) {
			reason = leafMessage(verr)
		}
		return Record{}, &ShapeError{Kind: KindRecord, Index: index, Value: raw, Reason: reason}
	}

	obj := raw.(map[string]any)
	rec := Record{
		Dir: obj["dir"].(string),
		URL: obj["url"].(string),
	}

	if err := validate.GitURL(rec.URL); err != nil {
		return Record{}, &ShapeError{Kind: KindRecord, Index: index, Value: raw, Reason: err.Error()}
	}

	return rec, nil
}

// leafMessage returns the most specific cause of a schema violation
func leafMessage(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	loc := verr.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, verr.Message)
}

// describe renders a decoded value compactly for log and error messages
func describe(v any) string {
	b, err := json.Marshal(v, json.Deterministic(true))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(string(b))
}
