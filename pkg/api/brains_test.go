package api

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

func TestCreateBrain(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)

	assert.NotEmpty(t, brain.BrainID)
	assert.Equal(t, "b", brain.DisplayName)
	assert.NotZero(t, brain.CreatedMicros)

	stored, err := store.ReadBrain("p0", brain.BrainID)
	require.NoError(t, err)
	assert.Equal(t, brain.BrainSpec, stored.BrainSpec)
}

func TestCreateBrainInvalidSpec(t *testing.T) {
	svc, _ := newTestService(t)
	spec := testBrainSpec()
	spec.ActionSpec.Actions[0].Number = &models.NumberType{Minimum: 1, Maximum: 1}

	_, err := svc.CreateBrain(authedContext(), &CreateBrainRequest{
		ProjectID: "p0", BrainSpec: spec,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "action_spec/actions/a")
}

func TestGetBrain(t *testing.T) {
	svc, _ := newTestService(t)
	created := createTestBrain(t, svc)

	got, err := svc.GetBrain(authedContext(), &GetBrainRequest{
		ProjectID: "p0", BrainID: created.BrainID,
	})
	require.NoError(t, err)
	assert.Equal(t, created.BrainID, got.BrainID)
}

func TestGetBrainNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetBrain(authedContext(), &GetBrainRequest{
		ProjectID: "p0", BrainID: "missing",
	})
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestListBrainsPaging(t *testing.T) {
	svc, store := newTestService(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Write(&models.Brain{
			ProjectID: "p0", BrainID: fmt.Sprintf("b%d", i), BrainSpec: testBrainSpec(),
		}))
	}

	var got []string
	token := ""
	for {
		resp, err := svc.ListBrains(authedContext(), &ListBrainsRequest{
			ProjectID: "p0", PageSize: 2, PageToken: token,
		})
		require.NoError(t, err)
		for _, b := range resp.Brains {
			got = append(got, b.BrainID)
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	assert.Equal(t, []string{"b0", "b1", "b2", "b3", "b4"}, got)
}

func TestListBrainsMalformedToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ListBrains(authedContext(), &ListBrainsRequest{
		ProjectID: "p0", PageToken: "not//a//resource",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
