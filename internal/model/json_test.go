package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalResponseMap_Deterministic(t *testing.T) {
	m := ResponseMap{
		"zebra": NewTextResponse("z"),
		"apple": NumberResponse{Number: 3},
		"mc":    MultipleChoiceResponse{SelectedOptionIDs: []string{"b", "a"}},
	}

	first, err := MarshalResponseMap(m)
	require.NoError(t, err)
	second, err := MarshalResponseMap(m)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Keys come out sorted regardless of map iteration order.
	assert.Less(t, indexOf(first, `"apple"`), indexOf(first, `"zebra"`))
}

func TestResponseMapRoundTrip(t *testing.T) {
	m := ResponseMap{
		"t":  NewTextResponse("café"),
		"n":  NumberResponse{Number: 2.5},
		"d":  DateResponse{Date: "2024-05-01"},
		"tm": TimeResponse{Time: "09:30"},
		"mc": MultipleChoiceResponse{SelectedOptionIDs: []string{"opt-2", "opt-1"}},
	}

	data, err := MarshalResponseMap(m)
	require.NoError(t, err)
	back, err := UnmarshalResponseMap(data)
	require.NoError(t, err)

	assert.True(t, m.Equal(back))
}

func TestMarshalDeltas_PreservesOrderAndNulls(t *testing.T) {
	deltas := []ResponseDelta{
		{FieldID: "a", NewResponse: NewTextResponse("x")},
		{FieldID: "a"}, // clear
		{FieldID: "b", NewResponse: NumberResponse{Number: 1}},
	}

	data, err := MarshalDeltas(deltas)
	require.NoError(t, err)
	back, err := UnmarshalDeltas(data)
	require.NoError(t, err)

	require.Len(t, back, 3)
	assert.Equal(t, "a", back[0].FieldID)
	assert.NotNil(t, back[0].NewResponse)
	assert.Equal(t, "a", back[1].FieldID)
	assert.Nil(t, back[1].NewResponse)
	assert.Equal(t, "b", back[2].FieldID)
}

func TestGeometryRoundTrip(t *testing.T) {
	cases := []Geometry{
		Point{Coordinates: Coordinates{Lat: -12.5, Lng: 130.25}},
		Polygon{Vertices: []Coordinates{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 0}}},
		GeoJSON(`{"type":"Feature","geometry":null}`),
	}
	for _, g := range cases {
		data, err := MarshalGeometry(g)
		require.NoError(t, err)
		back, err := UnmarshalGeometry(data)
		require.NoError(t, err)
		assert.Equal(t, g, back)
	}
}

func TestUnmarshalGeometry_UnknownType(t *testing.T) {
	_, err := UnmarshalGeometry([]byte(`{"type":"hypercube"}`))
	assert.Error(t, err)
}

func TestUnmarshalResponse_UnknownType(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"type":"audio"}`))
	assert.Error(t, err)
}

func TestTextResponseNFCNormalized(t *testing.T) {
	// "é" as combining sequence vs precomposed must compare equal after
	// construction, and serialize identically.
	combining := NewTextResponse("é")
	precomposed := NewTextResponse("é")

	assert.True(t, combining.Equal(precomposed))

	a, err := MarshalResponse(combining)
	require.NoError(t, err)
	b, err := MarshalResponse(precomposed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func indexOf(data []byte, sub string) int {
	for i := 0; i+len(sub) <= len(data); i++ {
		if string(data[i:i+len(sub)]) == sub {
			return i
		}
	}
	return -1
}
