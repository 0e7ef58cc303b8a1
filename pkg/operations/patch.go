package operations

import (
	"reflect"
	"sort"
	"strings"
)

// PatchOp is the verb of one config patch entry.
type PatchOp string

const (
	PatchOpAdd     PatchOp = "add"
	PatchOpRemove  PatchOp = "remove"
	PatchOpReplace PatchOp = "replace"
)

// PatchEntry is one JSON-Patch-like change to a node's config mapping.
// Paths address top-level keys only ("/<key>"), RFC 6901 escaped.
type PatchEntry struct {
	Op    PatchOp `json:"op"`
	Path  string  `json:"path"`
	Value any     `json:"value,omitempty"`
}

// DiffConfig computes the patch that transforms old into new: add for new
// keys, remove for dropped keys, replace for changed values, nothing for
// unchanged keys. Entries come out sorted by path so identical inputs always
// produce an identical patch.
func DiffConfig(oldConfig, newConfig map[string]any) []PatchEntry {
	entries := make([]PatchEntry, 0)

	for key, oldValue := range oldConfig {
		newValue, exists := newConfig[key]
		if !exists {
			entries = append(entries, PatchEntry{Op: PatchOpRemove, Path: encodePath(key)})

			continue
		}

		if !reflect.DeepEqual(oldValue, newValue) {
			entries = append(entries, PatchEntry{Op: PatchOpReplace, Path: encodePath(key), Value: newValue})
		}
	}

	for key, newValue := range newConfig {
		if _, exists := oldConfig[key]; !exists {
			entries = append(entries, PatchEntry{Op: PatchOpAdd, Path: encodePath(key), Value: newValue})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	return entries
}

// ApplyPatch applies a patch to a config mapping and returns the result
// without mutating the input. Applying DiffConfig(old, new) to old yields
// exactly new.
func ApplyPatch(config map[string]any, entries []PatchEntry) map[string]any {
	result := make(map[string]any, len(config))
	for k, v := range config {
		result[k] = v
	}

	for _, entry := range entries {
		key := decodePath(entry.Path)

		switch entry.Op {
		case PatchOpAdd, PatchOpReplace:
			result[key] = entry.Value
		case PatchOpRemove:
			delete(result, key)
		}
	}

	return result
}

func encodePath(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	key = strings.ReplaceAll(key, "/", "~1")

	return "/" + key
}

func decodePath(path string) string {
	key := strings.TrimPrefix(path, "/")
	key = strings.ReplaceAll(key, "~1", "/")
	key = strings.ReplaceAll(key, "~0", "~")

	return key
}
