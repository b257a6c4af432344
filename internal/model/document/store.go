package document

// Store exposes document lookup for the chat backend.
type Store interface {
	List() []Document
	FindByID(id string) (Document, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Document
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied documents.
func NewMemoryStore(items []Document) *MemoryStore {
	return &MemoryStore{items: append([]Document(nil), items...)}
}

// List returns every known document.
func (s *MemoryStore) List() []Document {
	return append([]Document(nil), s.items...)
}

// FindByID looks up a document by identifier.
func (s *MemoryStore) FindByID(id string) (Document, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Document{}, false
}
