package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

type testRequest struct {
	Name       string `json:"name" validate:"required"`
	Status     string `json:"status" validate:"omitempty,oneof=Backlog Planned"`
	PrivateKey string `json:"private_key" validate:"omitempty,min=8"`
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(testRequest{Name: "jira", Status: "Planned"}))

	err := Validate(testRequest{})
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.InvalidConfig))

	var ie *ferrors.IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "name", ie.Field)

	err = Validate(testRequest{Name: "jira", Status: "Shipped"})
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "status", ie.Field)
	assert.Contains(t, ie.Message, "oneof=Backlog Planned")
}

func TestValidate_OmitsValues(t *testing.T) {
	err := Validate(testRequest{Name: "jira", PrivateKey: "short"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "short")
}
