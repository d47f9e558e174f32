package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionForReason(t *testing.T) {
	assert.Equal(t, Running, ConditionForReason("TASK_RUNNING"))
	assert.Equal(t, Unreachable, ConditionForReason("TASK_LOST"))
	assert.Equal(t, Unreachable, ConditionForReason("TASK_UNREACHABLE"))
	assert.Equal(t, Unknown, ConditionForReason("TASK_BOGUS"))
}
