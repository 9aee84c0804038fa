package model

import (
	"encoding/json"
	"fmt"
)

// Tagged JSON codecs for the sealed unions. These are the wire and storage
// encodings: each variant is an object with a "type" discriminator. Encoding
// goes through MarshalCanonical so output bytes are deterministic.

// MarshalGeometry encodes a geometry as canonical tagged JSON.
func MarshalGeometry(g Geometry) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("nil geometry")
	}
	return MarshalCanonical(geometryToMap(g))
}

func geometryToMap(g Geometry) map[string]any {
	switch v := g.(type) {
	case Point:
		return map[string]any{
			"type":        "point",
			"coordinates": coordinatesToMap(v.Coordinates),
		}
	case Polygon:
		vertices := make([]any, len(v.Vertices))
		for i, c := range v.Vertices {
			vertices[i] = coordinatesToMap(c)
		}
		return map[string]any{"type": "polygon", "vertices": vertices}
	case GeoJSON:
		return map[string]any{"type": "geojson", "geojson": string(v)}
	default:
		// Sealed interface - unreachable.
		panic(fmt.Sprintf("unknown geometry type %T", g))
	}
}

func coordinatesToMap(c Coordinates) map[string]any {
	return map[string]any{"lat": c.Lat, "lng": c.Lng}
}

// UnmarshalGeometry decodes tagged geometry JSON.
func UnmarshalGeometry(data []byte) (Geometry, error) {
	var tagged struct {
		Type        string      `json:"type"`
		Coordinates Coordinates `json:"coordinates"`
		GeoJSON     string      `json:"geojson"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("unmarshal geometry: %w", err)
	}
	switch tagged.Type {
	case "point":
		return Point{Coordinates: tagged.Coordinates}, nil
	case "polygon":
		var p struct {
			Vertices []Coordinates `json:"vertices"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal polygon: %w", err)
		}
		return Polygon{Vertices: p.Vertices}, nil
	case "geojson":
		return GeoJSON(tagged.GeoJSON), nil
	default:
		return nil, fmt.Errorf("unknown geometry type %q", tagged.Type)
	}
}

// MarshalResponse encodes a response as canonical tagged JSON.
func MarshalResponse(r Response) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil response")
	}
	return MarshalCanonical(responseToMap(r))
}

func responseToMap(r Response) map[string]any {
	switch v := r.(type) {
	case TextResponse:
		return map[string]any{"type": "text", "text": v.Text}
	case NumberResponse:
		return map[string]any{"type": "number", "number": v.Number}
	case DateResponse:
		return map[string]any{"type": "date", "date": v.Date}
	case TimeResponse:
		return map[string]any{"type": "time", "time": v.Time}
	case MultipleChoiceResponse:
		ids := make([]any, len(v.SelectedOptionIDs))
		for i, id := range v.SelectedOptionIDs {
			ids[i] = id
		}
		return map[string]any{"type": "multiple_choice", "selected_option_ids": ids}
	default:
		// Sealed interface - unreachable.
		panic(fmt.Sprintf("unknown response type %T", r))
	}
}

// UnmarshalResponse decodes tagged response JSON.
func UnmarshalResponse(data []byte) (Response, error) {
	var tagged struct {
		Type              string   `json:"type"`
		Text              string   `json:"text"`
		Number            float64  `json:"number"`
		Date              string   `json:"date"`
		Time              string   `json:"time"`
		SelectedOptionIDs []string `json:"selected_option_ids"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	switch tagged.Type {
	case "text":
		return NewTextResponse(tagged.Text), nil
	case "number":
		return NumberResponse{Number: tagged.Number}, nil
	case "date":
		return DateResponse{Date: tagged.Date}, nil
	case "time":
		return TimeResponse{Time: tagged.Time}, nil
	case "multiple_choice":
		return MultipleChoiceResponse{SelectedOptionIDs: tagged.SelectedOptionIDs}, nil
	default:
		return nil, fmt.Errorf("unknown response type %q", tagged.Type)
	}
}

// MarshalResponseMap encodes a response map as a canonical JSON object of
// field id to tagged response.
func MarshalResponseMap(m ResponseMap) ([]byte, error) {
	obj := make(map[string]any, len(m))
	for fieldID, r := range m {
		if r == nil {
			return nil, fmt.Errorf("nil response for field %q", fieldID)
		}
		obj[fieldID] = responseToMap(r)
	}
	return MarshalCanonical(obj)
}

// UnmarshalResponseMap decodes a canonical response map object.
func UnmarshalResponseMap(data []byte) (ResponseMap, error) {
	if len(data) == 0 {
		return ResponseMap{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal response map: %w", err)
	}
	out := make(ResponseMap, len(raw))
	for fieldID, msg := range raw {
		r, err := UnmarshalResponse(msg)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldID, err)
		}
		out[fieldID] = r
	}
	return out, nil
}

// MarshalDeltas encodes an ordered delta list as a canonical JSON array.
// A clear-field delta encodes its new_response as null.
func MarshalDeltas(deltas []ResponseDelta) ([]byte, error) {
	arr := make([]any, len(deltas))
	for i, d := range deltas {
		entry := map[string]any{"field_id": d.FieldID}
		if d.NewResponse == nil {
			entry["new_response"] = nil
		} else {
			entry["new_response"] = responseToMap(d.NewResponse)
		}
		arr[i] = entry
	}
	return MarshalCanonical(arr)
}

// UnmarshalDeltas decodes a canonical delta array, preserving order.
func UnmarshalDeltas(data []byte) ([]ResponseDelta, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []struct {
		FieldID     string          `json:"field_id"`
		NewResponse json.RawMessage `json:"new_response"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal deltas: %w", err)
	}
	out := make([]ResponseDelta, len(raw))
	for i, entry := range raw {
		out[i] = ResponseDelta{FieldID: entry.FieldID}
		if len(entry.NewResponse) > 0 && string(entry.NewResponse) != "null" {
			r, err := UnmarshalResponse(entry.NewResponse)
			if err != nil {
				return nil, fmt.Errorf("delta %d: %w", i, err)
			}
			out[i].NewResponse = r
		}
	}
	return out, nil
}
