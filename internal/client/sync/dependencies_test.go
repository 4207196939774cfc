package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemDependencies_AddRemove(t *testing.T) {
	deps := NewItemDependencies()

	assert.True(t, deps.IsReady("x/"))
	assert.True(t, deps.Empty())

	deps.Add("x/", "x/y.txt")
	deps.Add("x/", "x/z.txt")
	deps.Add("x/", "x/y.txt") // idempotent

	assert.False(t, deps.IsReady("x/"))
	assert.ElementsMatch(t, []string{"x/y.txt", "x/z.txt"}, deps.DependenciesOf("x/"))

	deps.Remove("x/", "x/y.txt", OutcomeSucceed)
	assert.False(t, deps.IsReady("x/"))

	deps.Remove("x/", "x/z.txt", OutcomeSucceed)
	assert.True(t, deps.IsReady("x/"))
	assert.True(t, deps.Empty())
	assert.False(t, deps.HasFailed("x/"))
}

func TestItemDependencies_FailPoisonsParent(t *testing.T) {
	deps := NewItemDependencies()
	deps.Add("x/", "x/y.txt")

	deps.Remove("x/", "x/y.txt", OutcomeFail)

	assert.True(t, deps.IsReady("x/"))
	assert.True(t, deps.HasFailed("x/"))
}

func TestItemDependencies_RetryClearsEdgeWithoutPoisoning(t *testing.T) {
	deps := NewItemDependencies()
	deps.Add("x/", "x/y.txt")

	deps.Remove("x/", "x/y.txt", OutcomeRetry)

	assert.True(t, deps.IsReady("x/"))
	assert.False(t, deps.HasFailed("x/"))
}

func TestItemDependencies_RemoveAbsentEdgeIsNoop(t *testing.T) {
	deps := NewItemDependencies()
	deps.Remove("x/", "x/y.txt", OutcomeFail)

	assert.False(t, deps.HasFailed("x/"))
	assert.True(t, deps.Empty())
}

func TestItemDependencies_RemoveAll(t *testing.T) {
	deps := NewItemDependencies()
	deps.Add("x/", "x/y.txt")
	deps.Add("x/", "x/z.txt")

	deps.RemoveAll("x/")

	assert.True(t, deps.IsReady("x/"))
	assert.True(t, deps.Empty())
	assert.False(t, deps.HasFailed("x/"))
}
