package overlay

// Registry is the ordered list of live overlay changesets plus the dense
// id->changeset map used to look one up by id. It is a pure data
// structure: all of its methods assume the caller already holds the
// Manager's overlay mutex, which serializes the registry and id allocator
// rather than either guarding itself with a lock of its own.
type Registry struct {
	list []*Changeset
	byID map[int]*Changeset
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*Changeset)}
}

// Add appends cs to the registry; cs becomes the new topmost entry.
func (r *Registry) Add(cs *Changeset) {
	r.list = append(r.list, cs)
	r.byID[cs.ID] = cs
}

// Get returns the changeset with the given id, or nil.
func (r *Registry) Get(id int) *Changeset {
	return r.byID[id]
}

// Len returns the number of applied changesets.
func (r *Registry) Len() int {
	return len(r.list)
}

// Remove deletes the changeset with the given id from both the list and
// the id map.
func (r *Registry) Remove(id int) {
	delete(r.byID, id)
	for i, cs := range r.list {
		if cs.ID == id {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return
		}
	}
}

// IsTopmostSafe reports whether cs is removable: no changeset applied
// later than it may have touched any node that cs's own edit log touched,
// where "touched" includes ancestors and descendants, determined via
// live-tree parent traversal rather than path-string comparison.
func (r *Registry) IsTopmostSafe(cs *Changeset) bool {
	_, safe := r.blockingID(cs)
	return safe
}

// blockingID returns the id of the first later-applied changeset that
// touches one of cs's own edit nodes, and false in its second return; if
// cs is safe to remove it returns (0, true).
func (r *Registry) blockingID(cs *Changeset) (int, bool) {
	idx := r.indexOf(cs.ID)
	if idx < 0 {
		return 0, false
	}
	for _, later := range r.list[idx+1:] {
		for _, e := range later.Edits {
			if cs.touches(e.Node) {
				return later.ID, false
			}
		}
	}
	return 0, true
}

func (r *Registry) indexOf(id int) int {
	for i, cs := range r.list {
		if cs.ID == id {
			return i
		}
	}
	return -1
}

// RemoveOrder returns the ids currently in the registry from topmost to
// bottommost, the order RemoveAll iterates in.
func (r *Registry) RemoveOrder() []int {
	ids := make([]int, len(r.list))
	for i := range r.list {
		ids[i] = r.list[len(r.list)-1-i].ID
	}
	return ids
}
