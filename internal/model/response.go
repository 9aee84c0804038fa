package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Response is a sealed interface over the typed values a submission can hold
// for a single task field. Only TextResponse, NumberResponse, DateResponse,
// TimeResponse, and MultipleChoiceResponse implement it.
type Response interface {
	response() // Sealed - only types in this package implement it.

	// Validate reports whether the response value is well-formed in
	// isolation. Field-type agreement is checked by Mutation.Validate.
	Validate() error

	// Equal reports whether two responses carry the same value.
	Equal(Response) bool
}

// TextResponse is free-form text. The value is NFC normalized on
// construction so that local and remote copies compare byte-for-byte.
type TextResponse struct {
	Text string `json:"text"`
}

// NewTextResponse returns a TextResponse with the text NFC normalized.
func NewTextResponse(text string) TextResponse {
	return TextResponse{Text: norm.NFC.String(text)}
}

func (TextResponse) response() {}

func (r TextResponse) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("empty text response")
	}
	return nil
}

func (r TextResponse) Equal(other Response) bool {
	o, ok := other.(TextResponse)
	return ok && o.Text == r.Text
}

// NumberResponse is a numeric value.
type NumberResponse struct {
	Number float64 `json:"number"`
}

func (NumberResponse) response() {}

func (r NumberResponse) Validate() error { return nil }

func (r NumberResponse) Equal(other Response) bool {
	o, ok := other.(NumberResponse)
	return ok && o.Number == r.Number
}

// DateResponse is a calendar date with no time component, in ISO 8601
// "2006-01-02" form.
type DateResponse struct {
	Date string `json:"date"`
}

func (DateResponse) response() {}

func (r DateResponse) Validate() error {
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", r.Date, err)
	}
	return nil
}

func (r DateResponse) Equal(other Response) bool {
	o, ok := other.(DateResponse)
	return ok && o.Date == r.Date
}

// TimeResponse is a wall-clock time of day in 24h "15:04" form.
type TimeResponse struct {
	Time string `json:"time"`
}

func (TimeResponse) response() {}

func (r TimeResponse) Validate() error {
	if _, err := time.Parse("15:04", r.Time); err != nil {
		return fmt.Errorf("invalid time %q: %w", r.Time, err)
	}
	return nil
}

func (r TimeResponse) Equal(other Response) bool {
	o, ok := other.(TimeResponse)
	return ok && o.Time == r.Time
}

// MultipleChoiceResponse is an ordered selection of option ids from a
// multiple-choice field.
type MultipleChoiceResponse struct {
	SelectedOptionIDs []string `json:"selected_option_ids"`
}

func (MultipleChoiceResponse) response() {}

func (r MultipleChoiceResponse) Validate() error {
	if len(r.SelectedOptionIDs) == 0 {
		return fmt.Errorf("empty selection")
	}
	seen := make(map[string]bool, len(r.SelectedOptionIDs))
	for _, id := range r.SelectedOptionIDs {
		if id == "" {
			return fmt.Errorf("empty option id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate option id %q", id)
		}
		seen[id] = true
	}
	return nil
}

func (r MultipleChoiceResponse) Equal(other Response) bool {
	o, ok := other.(MultipleChoiceResponse)
	if !ok || len(o.SelectedOptionIDs) != len(r.SelectedOptionIDs) {
		return false
	}
	for i, id := range r.SelectedOptionIDs {
		if o.SelectedOptionIDs[i] != id {
			return false
		}
	}
	return true
}

// ResponseMap maps task field ids to their current responses. A nil map and
// an empty map are interchangeable; Copy always returns non-nil.
type ResponseMap map[string]Response

// Copy returns a shallow copy of the map. Responses themselves are values
// and never mutated in place.
func (m ResponseMap) Copy() ResponseMap {
	out := make(ResponseMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether two response maps hold equal responses for the same
// field ids.
func (m ResponseMap) Equal(other ResponseMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}
