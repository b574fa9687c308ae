package domain

import "time"

// MappingRecord correlates a feed identity with the remote event created for it.
type MappingRecord struct {
	Identity               string
	RemoteEventID          string
	LastAppliedFingerprint string
	IsException            bool
	ExceptionOfIdentity    *string
	ExceptionDate          *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewMapping builds the record stored after a successful remote create.
func NewMapping(e *CanonicalEvent, remoteID, fingerprint string) MappingRecord {
	rec := MappingRecord{
		Identity:               e.Identity,
		RemoteEventID:          remoteID,
		LastAppliedFingerprint: fingerprint,
	}
	if e.IsException() {
		of := e.ExceptionOf
		date := e.ExceptionDate
		rec.IsException = true
		rec.ExceptionOfIdentity = &of
		rec.ExceptionDate = &date
	}
	return rec
}
