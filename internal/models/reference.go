package models

// ReferenceTable names a normalized table whose natural keys can be resolved
// to surrogate ids.
type ReferenceTable string

const (
	RefOrgUnits ReferenceTable = "org_units"
	RefStudents ReferenceTable = "students"
	RefStaff    ReferenceTable = "staff"
	RefClasses  ReferenceTable = "classes"
)

// ReferenceMap maps natural keys to surrogate ids. Keys without a match are
// absent.
type ReferenceMap map[string]string

// Lookup returns the surrogate id for key.
func (m ReferenceMap) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	id, ok := m[key]
	return id, ok
}

// Resolve returns a pointer suitable for a nullable foreign key column.
func (m ReferenceMap) Resolve(key string) *string {
	id, ok := m.Lookup(key)
	if !ok {
		return nil
	}
	return &id
}
