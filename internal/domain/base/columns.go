package base

// DataColumns are the audit and void columns every data table carries, in
// the order DataFields returns them.
const DataColumns = `creator, date_created, changed_by, date_changed, voided, voided_by, date_voided, void_reason`

// MetadataColumns are the name, audit and retire columns of metadata tables.
const MetadataColumns = `name, description, creator, date_created, changed_by, date_changed, retired, retired_by, date_retired, retire_reason`

// Fields returns scan targets matching DataColumns.
func (d *Data) Fields() []interface{} {
	return []interface{}{&d.Creator, &d.DateCreated, &d.ChangedBy, &d.DateChanged, &d.Voided, &d.VoidedBy, &d.DateVoided, &d.VoidReason}
}

// Values returns insert/update arguments matching DataColumns.
func (d *Data) Values() []interface{} {
	return []interface{}{d.Creator, d.DateCreated, d.ChangedBy, d.DateChanged, d.Voided, d.VoidedBy, d.DateVoided, d.VoidReason}
}

// Fields returns scan targets matching MetadataColumns.
func (m *Metadata) Fields() []interface{} {
	return []interface{}{&m.Name, &m.Description, &m.Creator, &m.DateCreated, &m.ChangedBy, &m.DateChanged, &m.Retired, &m.RetiredBy, &m.DateRetired, &m.RetireReason}
}

// Values returns insert/update arguments matching MetadataColumns.
func (m *Metadata) Values() []interface{} {
	return []interface{}{m.Name, m.Description, m.Creator, m.DateCreated, m.ChangedBy, m.DateChanged, m.Retired, m.RetiredBy, m.DateRetired, m.RetireReason}
}

// Args concatenates argument lists for a single statement.
func Args(groups ...[]interface{}) []interface{} {
	var n int
	for _, g := range groups {
		n += len(g)
	}
	out := make([]interface{}, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
