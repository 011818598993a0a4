package utils

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStringToSlice(t *testing.T) {
	assert.Equal(t, []string{}, StringToSlice(""))
	assert.Equal(t, []string{"a", "b"}, StringToSlice(" a, ,b "))
}

func TestNewLocalDraftID_IsUUID(t *testing.T) {
	_, err := uuid.Parse(NewLocalDraftID())
	assert.NoError(t, err)
}

func TestGenerateNanoIDWithPrefix(t *testing.T) {
	id := GenerateNanoIDWithPrefix("att", 16)
	assert.Len(t, id, len("att_")+16)
	assert.Regexp(t, "^att_[a-z0-9]+$", id)
}

func TestSetOwnerInContext_DoesNotMutateParent(t *testing.T) {
	parent := SetOwnerInContext(context.Background(), "owner-1")
	child := SetOwnerInContext(parent, "owner-2")

	assert.Equal(t, "owner-1", GetOwnerFromContext(parent))
	assert.Equal(t, "owner-2", GetOwnerFromContext(child))
}
