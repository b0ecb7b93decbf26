package base

import "github.com/google/uuid"

// StampDetails stamps the child rows of an aggregate being saved against the
// rows already stored for it. key returns a row's id and audit data.
//
// Stored rows keep their creation stamp and a stored void is never lifted by
// a save. A row voided through the save needs a reason and is voided by user.
// Rows whose id is unknown to the aggregate are treated as new.
func StampDetails[T any](rows, stored []*T, key func(*T) (*uuid.UUID, *Data), user string) error {
	prev := make(map[uuid.UUID]Data, len(stored))
	for _, r := range stored {
		id, d := key(r)
		prev[*id] = *d
	}
	now := Now()
	for _, r := range rows {
		id, d := key(r)
		old, known := prev[*id]
		if *id == uuid.Nil || !known {
			*id = uuid.Nil
			voided, reason := d.Voided, StrVal(d.VoidReason)
			d.Unvoid()
			d.ChangedBy, d.DateChanged = nil, nil
			d.Stamp(user, true)
			if voided {
				if err := d.Void(user, reason, now); err != nil {
					return err
				}
			}
			continue
		}
		d.Creator, d.DateCreated = old.Creator, old.DateCreated
		switch {
		case old.Voided:
			d.Voided, d.VoidedBy, d.DateVoided, d.VoidReason = old.Voided, old.VoidedBy, old.DateVoided, old.VoidReason
		case d.Voided:
			if err := d.Void(user, StrVal(d.VoidReason), now); err != nil {
				return err
			}
		default:
			d.Unvoid()
		}
		d.Stamp(user, false)
	}
	return nil
}
