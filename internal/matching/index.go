package matching

// Index is the exact alias lookup: normalized names and canonical keys mapped
// to the external ID they are known to denote. A nil *Index reads as empty.
type Index struct {
	ids map[string]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{ids: make(map[string]string)}
}

// NewIndexFromAliases builds an index from an alias -> external ID map.
func NewIndexFromAliases(aliases map[string]string) *Index {
	ix := NewIndex()
	for alias, id := range aliases {
		ix.Add(alias, id)
	}
	return ix
}

// Add maps key to externalID. Blank keys or IDs are ignored and the first
// mapping for a key wins.
func (ix *Index) Add(key, externalID string) {
	k := Normalize(key)
	if k == "" || externalID == "" {
		return
	}
	if _, exists := ix.ids[k]; exists {
		return
	}
	ix.ids[k] = externalID
}

// AddRecord indexes both the normalized name and the canonical key of r.
func (ix *Index) AddRecord(r Record) {
	ix.Add(r.NameNorm, r.ExternalID)
	ix.Add(r.CanonicalKey, r.ExternalID)
}

// Lookup returns the external ID mapped to key.
func (ix *Index) Lookup(key string) (string, bool) {
	if ix == nil {
		return "", false
	}
	k := Normalize(key)
	if k == "" {
		return "", false
	}
	id, ok := ix.ids[k]
	return id, ok
}

// Len returns the number of indexed keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.ids)
}
