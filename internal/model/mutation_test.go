package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func loiCreate(id string) Mutation {
	return Mutation{
		Type:       MutationCreate,
		EntityKind: KindLocationOfInterest,
		EntityID:   id,
		SurveyID:   "survey-1",
		JobID:      "job-1",
		Geometry:   Point{Coordinates: Coordinates{Lat: 10, Lng: 20}},
		UserID:     "user-1",
		ClientTime: testTime,
	}
}

func submissionCreate(id string, deltas ...ResponseDelta) Mutation {
	return Mutation{
		Type:       MutationCreate,
		EntityKind: KindSubmission,
		EntityID:   id,
		SurveyID:   "survey-1",
		JobID:      "job-1",
		LoiID:      "loi-1",
		TaskID:     "task-1",
		Deltas:     deltas,
		UserID:     "user-1",
		ClientTime: testTime,
	}
}

func TestMutationValidate_DeleteCarriesNoDeltas(t *testing.T) {
	m := submissionCreate("s1", ResponseDelta{FieldID: "f", NewResponse: NewTextResponse("x")})
	m.Type = MutationDelete

	err := m.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deltas")
}

func TestMutationValidate_RequiredForeignKeys(t *testing.T) {
	m := submissionCreate("s1")
	m.TaskID = ""
	assert.Error(t, m.Validate())

	m = loiCreate("l1")
	m.SurveyID = ""
	assert.Error(t, m.Validate())

	m = loiCreate("l1")
	m.UserID = ""
	assert.Error(t, m.Validate())
}

func TestMutationValidate_LocationNeedsGeometry(t *testing.T) {
	m := loiCreate("l1")
	m.Geometry = nil
	assert.Error(t, m.Validate())

	// DELETE does not carry geometry.
	m = loiCreate("l1")
	m.Type = MutationDelete
	m.Geometry = nil
	assert.NoError(t, m.Validate())
}

func TestMutationApplied_Create(t *testing.T) {
	m := loiCreate("l1")

	e, err := m.Applied(nil)
	require.NoError(t, err)

	assert.Equal(t, "l1", e.ID)
	assert.Equal(t, StateDefault, e.State)
	assert.Equal(t, Point{Coordinates: Coordinates{Lat: 10, Lng: 20}}, e.Geometry)
	assert.Equal(t, "user-1", e.Created.UserID)
	assert.NoError(t, e.Validate())
}

func TestMutationApplied_CreateOverLiveEntityFails(t *testing.T) {
	m := loiCreate("l1")
	existing, err := m.Applied(nil)
	require.NoError(t, err)

	_, err = m.Applied(&existing)
	assert.Error(t, err)
}

func TestMutationApplied_CreateOverSoftDeletedSucceeds(t *testing.T) {
	m := loiCreate("l1")
	existing, err := m.Applied(nil)
	require.NoError(t, err)
	existing.State = StateDeleted

	e, err := m.Applied(&existing)
	require.NoError(t, err)
	assert.Equal(t, StateDefault, e.State)
}

func TestMutationApplied_UpdateFoldsDeltas(t *testing.T) {
	create := submissionCreate("s1",
		ResponseDelta{FieldID: "a", NewResponse: NumberResponse{Number: 1}})
	base, err := create.Applied(nil)
	require.NoError(t, err)

	update := submissionCreate("s1",
		ResponseDelta{FieldID: "a", NewResponse: NumberResponse{Number: 2}})
	update.Type = MutationUpdate
	update.ClientTime = testTime.Add(time.Minute)

	e, err := update.Applied(&base)
	require.NoError(t, err)

	assert.True(t, e.Responses["a"].Equal(NumberResponse{Number: 2}))
	assert.Equal(t, testTime.Add(time.Minute), e.LastModified.ClientTime)
	// Base untouched.
	assert.True(t, base.Responses["a"].Equal(NumberResponse{Number: 1}))
}

func TestMutationApplied_UpdateMissingEntityFails(t *testing.T) {
	m := loiCreate("l1")
	m.Type = MutationUpdate

	_, err := m.Applied(nil)
	assert.Error(t, err)
}

func TestMutationApplied_DeleteSoftDeletes(t *testing.T) {
	create := loiCreate("l1")
	base, err := create.Applied(nil)
	require.NoError(t, err)

	del := loiCreate("l1")
	del.Type = MutationDelete
	del.Geometry = nil

	e, err := del.Applied(&base)
	require.NoError(t, err)
	assert.True(t, e.Deleted())
	// Geometry survives the soft delete for audit purposes.
	assert.NotNil(t, e.Geometry)
}

func TestMutationCheckAgainst_UnknownFieldsReported(t *testing.T) {
	task := Task{ID: "task-1", Fields: []Field{
		{ID: "a", Type: FieldTypeNumber},
	}}
	m := submissionCreate("s1",
		ResponseDelta{FieldID: "a", NewResponse: NumberResponse{Number: 1}},
		ResponseDelta{FieldID: "mystery", NewResponse: NewTextResponse("x")},
	)

	unknown, err := m.CheckAgainst(task)
	require.NoError(t, err)
	assert.Equal(t, []string{"mystery"}, unknown)
}

func TestMutationCheckAgainst_TypeMismatch(t *testing.T) {
	task := Task{ID: "task-1", Fields: []Field{
		{ID: "a", Type: FieldTypeNumber},
	}}
	m := submissionCreate("s1",
		ResponseDelta{FieldID: "a", NewResponse: NewTextResponse("not a number")})

	_, err := m.CheckAgainst(task)
	assert.Error(t, err)
}

func TestFieldCheckResponse_MultipleChoice(t *testing.T) {
	f := Field{
		ID:          "mc",
		Type:        FieldTypeMultipleChoice,
		Cardinality: CardinalitySelectOne,
		Options:     []Option{{ID: "opt-1"}, {ID: "opt-2"}},
	}

	assert.NoError(t, f.CheckResponse(MultipleChoiceResponse{SelectedOptionIDs: []string{"opt-1"}}))
	assert.Error(t, f.CheckResponse(MultipleChoiceResponse{SelectedOptionIDs: []string{"opt-1", "opt-2"}}))
	assert.Error(t, f.CheckResponse(MultipleChoiceResponse{SelectedOptionIDs: []string{"nope"}}))
}
