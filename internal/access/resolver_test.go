package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/guarda/internal/models"
)

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestResolveFaceNotRecognized(t *testing.T) {
	d := Resolve(ResolveInput{Flow: FlowWalkin}, []Grant{WalkinGrant{ID: uuid.New(), PersonID: uuid.New(), Active: true}})
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, ReasonFaceNotRecognized, d.Reason)
	assert.Nil(t, d.AuthorizationID)

	d = Resolve(ResolveInput{Flow: FlowVehicle, Plate: "ABC1234"}, nil)
	assert.Equal(t, ReasonFaceNotRecognized, d.Reason)
	assert.Equal(t, FlowVehicle, d.Flow)
	assert.Equal(t, "ABC1234", d.Plate)
}

func TestResolveWalkin(t *testing.T) {
	person := uuid.New()
	grantID := uuid.New()

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin},
		[]Grant{WalkinGrant{ID: grantID, PersonID: person, Active: true}})
	require.True(t, d.Granted())
	assert.Equal(t, ReasonWalkinAuthorized, d.Reason)
	assert.Equal(t, grantID, *d.AuthorizationID)
	assert.Equal(t, person, *d.PersonID)

	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin}, nil)
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, ReasonWalkinNotAuthorized, d.Reason)
	assert.Equal(t, person, *d.PersonID)
}

func TestResolveWalkinIgnoresVehicleGrants(t *testing.T) {
	person := uuid.New()
	grants := []Grant{VehicleGrant{ID: uuid.New(), PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true}}

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin}, grants)
	assert.Equal(t, ReasonWalkinNotAuthorized, d.Reason)
}

func TestResolveVehicle(t *testing.T) {
	person := uuid.New()
	grantID := uuid.New()
	grants := []Grant{VehicleGrant{ID: grantID, PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true}}

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "ABC1234"}, grants)
	require.True(t, d.Granted())
	assert.Equal(t, ReasonVehicleAuthorized, d.Reason)
	assert.Equal(t, grantID, *d.AuthorizationID)

	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "XYZ9999"}, grants)
	assert.Equal(t, ReasonVehicleMismatch, d.Reason)
	assert.Nil(t, d.AuthorizationID)

	// No plate read at all still counts as a mismatch when the person drives.
	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle}, grants)
	assert.Equal(t, ReasonVehicleMismatch, d.Reason)

	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "ABC1234"},
		[]Grant{WalkinGrant{ID: uuid.New(), PersonID: person, Active: true}})
	assert.Equal(t, ReasonVehicleNotAuthorized, d.Reason)
}

func TestResolvePlateForcesVehicleFlow(t *testing.T) {
	person := uuid.New()
	grants := []Grant{WalkinGrant{ID: uuid.New(), PersonID: person, Active: true}}

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin, Plate: "ABC1234"}, grants)
	assert.Equal(t, FlowVehicle, d.Flow)
	assert.Equal(t, ReasonVehicleNotAuthorized, d.Reason)
}

func TestResolveOtherPersonsGrants(t *testing.T) {
	person, other := uuid.New(), uuid.New()
	grants := []Grant{
		WalkinGrant{ID: uuid.New(), PersonID: other, Active: true},
		VehicleGrant{ID: uuid.New(), PersonID: other, VehicleID: uuid.New(), Plate: "ABC1234", Active: true},
	}

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin}, grants)
	assert.Equal(t, ReasonWalkinNotAuthorized, d.Reason)

	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "ABC1234"}, grants)
	assert.Equal(t, ReasonVehicleNotAuthorized, d.Reason)
}

func TestResolveInactiveGrantsIgnored(t *testing.T) {
	person := uuid.New()
	grants := []Grant{
		WalkinGrant{ID: uuid.New(), PersonID: person, Active: false},
		VehicleGrant{ID: uuid.New(), PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: false},
	}

	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin}, grants)
	assert.Equal(t, ReasonWalkinNotAuthorized, d.Reason)

	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "ABC1234"}, grants)
	assert.Equal(t, ReasonVehicleNotAuthorized, d.Reason)
}

func TestResolveDuplicatesPickLowestID(t *testing.T) {
	person := uuid.New()
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	mid := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	grants := []Grant{
		WalkinGrant{ID: high, PersonID: person, Active: true},
		WalkinGrant{ID: low, PersonID: person, Active: true},
		WalkinGrant{ID: mid, PersonID: person, Active: true},
	}
	d := Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowWalkin}, grants)
	require.True(t, d.Granted())
	assert.Equal(t, low, *d.AuthorizationID)
	assert.Equal(t, 2, d.Duplicates)

	vgrants := []Grant{
		VehicleGrant{ID: mid, PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true},
		VehicleGrant{ID: high, PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true},
		VehicleGrant{ID: low, PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: false},
	}
	d = Resolve(ResolveInput{PersonID: ptr(person), Flow: FlowVehicle, Plate: "ABC1234"}, vgrants)
	require.True(t, d.Granted())
	assert.Equal(t, mid, *d.AuthorizationID)
	assert.Equal(t, 1, d.Duplicates)
}

// Every combination of inputs yields exactly one decision with a known reason,
// and a grant carries an authorization id while a denial does not.
func TestResolveTotal(t *testing.T) {
	person := uuid.New()
	known := map[Reason]bool{
		ReasonFaceNotRecognized: true, ReasonWalkinAuthorized: true, ReasonWalkinNotAuthorized: true,
		ReasonVehicleAuthorized: true, ReasonVehicleMismatch: true, ReasonVehicleNotAuthorized: true,
	}

	persons := []*uuid.UUID{nil, ptr(person)}
	flows := []Flow{FlowWalkin, FlowVehicle, Flow("")}
	plates := []string{"", "ABC1234", "XYZ9999"}
	grantSets := [][]Grant{
		nil,
		{WalkinGrant{ID: uuid.New(), PersonID: person, Active: true}},
		{WalkinGrant{ID: uuid.New(), PersonID: person, Active: false}},
		{VehicleGrant{ID: uuid.New(), PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true}},
		{
			WalkinGrant{ID: uuid.New(), PersonID: person, Active: true},
			VehicleGrant{ID: uuid.New(), PersonID: person, VehicleID: uuid.New(), Plate: "ABC1234", Active: true},
		},
	}

	for _, p := range persons {
		for _, f := range flows {
			for _, plate := range plates {
				for _, gs := range grantSets {
					d := Resolve(ResolveInput{PersonID: p, Flow: f, Plate: plate}, gs)
					require.True(t, known[d.Reason], "unexpected reason %q", d.Reason)
					require.Contains(t, []Flow{FlowWalkin, FlowVehicle}, d.Flow)
					if d.Granted() {
						require.NotNil(t, d.AuthorizationID)
					} else {
						require.Nil(t, d.AuthorizationID)
					}
				}
			}
		}
	}
}

func TestGrantsFrom(t *testing.T) {
	person, vehicle := uuid.New(), uuid.New()
	rows := []models.Authorization{
		{ID: uuid.New(), PersonID: person, IsActive: true},
		{ID: uuid.New(), PersonID: person, VehicleID: &vehicle, VehiclePlate: "ABC1234", IsActive: true},
	}

	grants := GrantsFrom(rows)
	require.Len(t, grants, 2)

	w, ok := grants[0].(WalkinGrant)
	require.True(t, ok)
	assert.Equal(t, rows[0].ID, w.ID)

	v, ok := grants[1].(VehicleGrant)
	require.True(t, ok)
	assert.Equal(t, vehicle, v.VehicleID)
	assert.Equal(t, "ABC1234", v.Plate)
}
