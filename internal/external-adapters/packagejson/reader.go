// Package packagejson turns an uploaded package.json into a dependency selection.
package packagejson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/jsonc"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// Dependency sections flattened into a selection, in priority order
var sections = []string{"dependencies", "devDependencies"}

// maxManifestSize bounds uploaded manifests
const maxManifestSize = 5 << 20

// Reader parses package.json documents. Comments and trailing commas are
// tolerated.
type Reader struct{}

// NewReader creates a new package.json reader
func NewReader() *Reader {
	return &Reader{}
}

// ReadFrom reads and parses a manifest from r
func (p *Reader) ReadFrom(r io.Reader) (entities.DependencySelection, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("manifest exceeds %d bytes", maxManifestSize)
	}
	return p.Parse(data)
}

// Parse flattens dependencies and then devDependencies in document order.
// A name listed more than once keeps its first position and its last
// constraint, so devDependencies override dependencies.
func (p *Reader) Parse(data []byte) (entities.DependencySelection, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("manifest must be a JSON object: %w", err)
	}

	found := make(map[string]entities.DependencySelection, len(sections))
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		if !isSection(key) {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("malformed manifest: %w", err)
			}
			continue
		}

		deps, err := readSection(dec, key)
		if err != nil {
			return nil, err
		}
		found[key] = deps
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	selection := make(entities.DependencySelection, 0)
	index := make(map[string]int)
	for _, section := range sections {
		selection = merge(selection, index, found[section])
	}
	return selection, nil
}

// merge appends deps to selection. A repeated name keeps its first
// position and takes the later constraint.
func merge(selection entities.DependencySelection, index map[string]int, deps entities.DependencySelection) entities.DependencySelection {
	for _, dep := range deps {
		if i, dup := index[dep.Name]; dup {
			selection[i].Constraint = dep.Constraint
			continue
		}
		index[dep.Name] = len(selection)
		selection = append(selection, dep)
	}
	return selection
}

// readSection reads a name-to-constraint object preserving key order
func readSection(dec *json.Decoder, section string) (entities.DependencySelection, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%s must be an object", section)
	}

	var deps entities.DependencySelection
	index := make(map[string]int)
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		var constraint interface{}
		if err := dec.Decode(&constraint); err != nil {
			return nil, fmt.Errorf("malformed manifest: %w", err)
		}
		value, ok := constraint.(string)
		if !ok {
			return nil, fmt.Errorf("%s.%s: version constraint must be a string", section, name)
		}
		deps = merge(deps, index, entities.DependencySelection{{Name: name, Constraint: value}})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	return deps, nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("malformed manifest: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", errors.New("malformed manifest: expected an object key")
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q", want)
	}
	return nil
}

func isSection(key string) bool {
	for _, s := range sections {
		if s == key {
			return true
		}
	}
	return false
}
