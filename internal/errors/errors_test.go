package errors

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = NewStd("sentinel")

func TestBuilder_CarriesMetadata(t *testing.T) {
	ee := Newf("update failed: %w", errSentinel).
		Component("repository").
		Category(CategoryDatabase).
		Context("alert_id", "a-1").
		Build()

	assert.Equal(t, "update failed: sentinel", ee.Error())
	assert.Equal(t, "repository", ee.GetComponent())
	assert.Equal(t, CategoryDatabase, ee.GetCategory())
	assert.Equal(t, map[string]any{"alert_id": "a-1"}, ee.GetContext())
	assert.False(t, ee.GetTimestamp().IsZero())
	assert.True(t, Is(ee, errSentinel))
}

func TestBuilder_DefaultCategory(t *testing.T) {
	ee := New(errSentinel).Build()
	assert.Equal(t, CategoryGeneric, ee.GetCategory())
}

func TestCategoryOf_WrappedChain(t *testing.T) {
	inner := New(errSentinel).Category(CategoryPenalty).Build()
	wrapped := fmt.Errorf("outer: %w", inner)

	assert.Equal(t, CategoryPenalty, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(errSentinel))
}

func TestGetContext_ReturnsCopy(t *testing.T) {
	ee := New(errSentinel).Context("k", 1).Build()
	ctx := ee.GetContext()
	ctx["k"] = 2
	assert.Equal(t, 1, ee.GetContext()["k"])
}

func TestSetReporter_ReceivesBuiltErrors(t *testing.T) {
	var count atomic.Int32
	SetReporter(func(ee *EnhancedError) {
		if ee.GetComponent() == "reporter-test" {
			count.Add(1)
		}
	})
	t.Cleanup(func() { SetReporter(nil) })

	_ = New(errSentinel).Component("reporter-test").Build()
	_ = New(errSentinel).Component("reporter-test").Build()

	require.Equal(t, int32(2), count.Load())
}

func TestJoin(t *testing.T) {
	other := NewStd("other")
	joined := Join(errSentinel, other)
	assert.True(t, Is(joined, errSentinel))
	assert.True(t, Is(joined, other))
	assert.Nil(t, Unwrap(errSentinel))
}
