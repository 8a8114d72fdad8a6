package access

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/your-org/guarda/internal/models"
)

// Grant is a resolved authorization: either a WalkinGrant or a VehicleGrant.
type Grant interface {
	GrantID() uuid.UUID
	Holder() uuid.UUID
	Enabled() bool
	grant()
}

// WalkinGrant lets a person in on foot after a face match.
type WalkinGrant struct {
	ID       uuid.UUID
	PersonID uuid.UUID
	Active   bool
}

func (g WalkinGrant) GrantID() uuid.UUID { return g.ID }
func (g WalkinGrant) Holder() uuid.UUID  { return g.PersonID }
func (g WalkinGrant) Enabled() bool      { return g.Active }
func (WalkinGrant) grant()               {}

// VehicleGrant lets a person in with one vehicle after a face match and a
// plate match.
type VehicleGrant struct {
	ID        uuid.UUID
	PersonID  uuid.UUID
	VehicleID uuid.UUID
	Plate     string
	Active    bool
}

func (g VehicleGrant) GrantID() uuid.UUID { return g.ID }
func (g VehicleGrant) Holder() uuid.UUID  { return g.PersonID }
func (g VehicleGrant) Enabled() bool      { return g.Active }
func (VehicleGrant) grant()               {}

// GrantFrom converts a stored authorization row.
func GrantFrom(a models.Authorization) Grant {
	if a.VehicleID == nil {
		return WalkinGrant{ID: a.ID, PersonID: a.PersonID, Active: a.IsActive}
	}
	return VehicleGrant{
		ID:        a.ID,
		PersonID:  a.PersonID,
		VehicleID: *a.VehicleID,
		Plate:     a.VehiclePlate,
		Active:    a.IsActive,
	}
}

// GrantsFrom converts a slice of stored authorization rows.
func GrantsFrom(rows []models.Authorization) []Grant {
	grants := make([]Grant, 0, len(rows))
	for _, a := range rows {
		grants = append(grants, GrantFrom(a))
	}
	return grants
}

// lowestGrant returns the grant with the smallest id.
func lowestGrant(grants []Grant) Grant {
	var best Grant
	for _, g := range grants {
		if best == nil {
			best = g
			continue
		}
		a, b := g.GrantID(), best.GrantID()
		if bytes.Compare(a[:], b[:]) < 0 {
			best = g
		}
	}
	return best
}
