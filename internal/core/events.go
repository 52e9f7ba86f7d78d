package core

// ChangeKind names what happened to a transaction row.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeSkipped ChangeKind = "skipped"
	ChangeDeleted ChangeKind = "deleted"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreated, ChangeUpdated, ChangeSkipped, ChangeDeleted:
		return true
	}
	return false
}

// Removes reports whether consumers should drop the row from their views.
func (k ChangeKind) Removes() bool {
	return k == ChangeSkipped || k == ChangeDeleted
}
