package frame

import (
	"fmt"
	"sort"
)

// Table is the immutable frame set built once per process.
// It keeps the key<->index mapping bijective: every index maps to exactly one
// key and back. Lookups return clones so callers may mutate scores freely.
type Table struct {
	frames     map[string]*Frame
	keyToIndex map[string]int
	indexToKey map[int]string
	order      []string
	categories []Category
}

// NewTable builds a table from frames in index order. A frame's position in
// the slice becomes its index.
func NewTable(frames []*Frame) (*Table, error) {
	t := &Table{
		frames:     make(map[string]*Frame, len(frames)),
		keyToIndex: make(map[string]int, len(frames)),
		indexToKey: make(map[int]string, len(frames)),
		order:      make([]string, 0, len(frames)),
		categories: Categories(),
	}
	for i, f := range frames {
		if f == nil || f.Key == "" {
			return nil, fmt.Errorf("frame at position %d has no key", i)
		}
		if _, dup := t.frames[f.Key]; dup {
			return nil, fmt.Errorf("duplicate frame key %q", f.Key)
		}
		stored := f.Clone()
		stored.Index = i
		stored.ResetScore()
		t.frames[f.Key] = stored
		t.keyToIndex[f.Key] = i
		t.indexToKey[i] = f.Key
		t.order = append(t.order, f.Key)
	}
	return t, nil
}

// Len returns the number of frames.
func (t *Table) Len() int {
	return len(t.order)
}

// ByKey returns a copy of the frame with the given key.
func (t *Table) ByKey(key string) (*Frame, bool) {
	f, ok := t.frames[key]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// ByIndex returns a copy of the frame at an index position.
func (t *Table) ByIndex(i int) (*Frame, bool) {
	key, ok := t.indexToKey[i]
	if !ok {
		return nil, false
	}
	return t.ByKey(key)
}

// IndexOf returns the index position of a key.
func (t *Table) IndexOf(key string) (int, bool) {
	i, ok := t.keyToIndex[key]
	return i, ok
}

// KeyAt returns the key stored at an index position.
func (t *Table) KeyAt(i int) (string, bool) {
	key, ok := t.indexToKey[i]
	return key, ok
}

// Keys returns all keys in index order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// All returns copies of every frame in index order.
func (t *Table) All() []*Frame {
	out := make([]*Frame, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.frames[key].Clone())
	}
	return out
}

// Categories returns the object categories known to this table.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.categories))
	copy(out, t.categories)
	return out
}

// TagVocabulary returns the sorted set of distinct tags across all frames.
func (t *Table) TagVocabulary() []string {
	seen := make(map[string]struct{})
	for _, f := range t.frames {
		for _, tag := range f.Tags {
			seen[tag] = struct{}{}
		}
	}
	vocab := make([]string, 0, len(seen))
	for tag := range seen {
		vocab = append(vocab, tag)
	}
	sort.Strings(vocab)
	return vocab
}
