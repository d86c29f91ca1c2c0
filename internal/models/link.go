package models

// Link is an optional reference to another row. The zero value is unlinked.
type Link struct {
	id    uint
	valid bool
}

// LinkOf converts a nullable foreign key into a Link.
func LinkOf(id *uint) Link {
	if id == nil {
		return Link{}
	}
	return Link{id: *id, valid: true}
}

// Linked returns the referenced row id and whether the link is set.
func (l Link) Linked() (uint, bool) {
	return l.id, l.valid
}
