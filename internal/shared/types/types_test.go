package types

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBloodGroup(t *testing.T) {
	tests := []struct {
		in      string
		want    BloodGroup
		wantErr bool
	}{
		{"O+", OPositive, false},
		{" ab- ", ABNegative, false},
		{"a+", APositive, false},
		{"C+", "", true},
		{"", "", true},
		{"AB", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBloodGroup(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBloodGroupsComplete(t *testing.T) {
	assert.Len(t, BloodGroups, 8)
	for _, bg := range BloodGroups {
		assert.True(t, bg.IsValid(), bg)
	}
}

func TestDistanceKm(t *testing.T) {
	mumbai := Point{Lat: 19.0760, Lng: 72.8777}
	pune := Point{Lat: 18.5204, Lng: 73.8567}

	assert.InDelta(t, 119.9, mumbai.DistanceKm(pune), 1.0)
	assert.InDelta(t, mumbai.DistanceKm(pune), pune.DistanceKm(mumbai), 1e-9)
	assert.Zero(t, mumbai.DistanceKm(mumbai))

	// one degree of latitude is R*pi/180
	oneDegree := Point{Lat: 0, Lng: 0}.DistanceKm(Point{Lat: 1, Lng: 0})
	assert.InDelta(t, EarthRadiusKm*math.Pi/180, oneDegree, 1e-6)
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, Point{Lat: 12.97, Lng: 77.59}.Validate())
	assert.Error(t, Point{Lat: 91, Lng: 0}.Validate())
	assert.Error(t, Point{Lat: 0, Lng: -181}.Validate())
	assert.Error(t, Point{Lat: math.NaN(), Lng: 0}.Validate())
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	upper, err := ParseID(strings.ToUpper(id.String()))
	require.NoError(t, err)
	assert.Equal(t, id, upper)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
	assert.True(t, ID("").IsZero())
}

func TestIDScan(t *testing.T) {
	var id ID
	require.NoError(t, id.Scan([16]byte{0x12, 0x34}))
	assert.Equal(t, ID("12340000-0000-0000-0000-000000000000"), id)

	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())

	assert.Error(t, id.Scan(42))
	assert.Equal(t, []string{"a", "b"}, Strings([]ID{"a", "b"}))
}

func TestContactValidation(t *testing.T) {
	assert.True(t, ValidEmail("asha.rao@example.in"))
	assert.False(t, ValidEmail("asha@"))
	assert.True(t, ValidPhone("9876543210"))
	assert.True(t, ValidPhone("+919876543210"))
	assert.False(t, ValidPhone("98765-43210"))
	assert.False(t, ValidPhone("12345"))
}

func TestLocationColumnsRoundTrip(t *testing.T) {
	var none *Location
	addr, lat, lng := none.Columns()
	assert.Empty(t, addr)
	assert.Nil(t, lat)
	assert.Nil(t, lng)
	assert.Nil(t, LocationFromColumns("", nil, nil))

	loc := &Location{Address: "MG Road", Point: &Point{Lat: 12.97, Lng: 77.6}}
	back := LocationFromColumns(loc.Columns())
	require.NotNil(t, back)
	assert.Equal(t, *loc.Point, *back.Point)

	addressOnly := LocationFromColumns("MG Road", nil, nil)
	require.NotNil(t, addressOnly)
	assert.False(t, addressOnly.HasPoint())
}
