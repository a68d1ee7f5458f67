package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

func TestInboxSelectorPrefersAutoEngage(t *testing.T) {
	sel := NewInboxSelector([]domain.WarmupInbox{
		testInbox("manual", 10, false),
		testInbox("auto", 10, true),
	})

	in := sel.Next()
	require.NotNil(t, in)
	assert.Equal(t, "auto", in.ID)
}

func TestInboxSelectorCountsInPassGrants(t *testing.T) {
	a := testInbox("a", 2, true)
	a.ReceivedToday = 1
	b := testInbox("b", 5, false)

	sel := NewInboxSelector([]domain.WarmupInbox{a, b})

	// a has one slot left today, then traffic spills to b.
	assert.Equal(t, "a", sel.Next().ID)
	assert.Equal(t, "b", sel.Next().ID)
	assert.Equal(t, "b", sel.Next().ID)
	assert.Equal(t, 1, sel.Granted("a"))
	assert.Equal(t, 2, sel.Granted("b"))
}

func TestInboxSelectorExhaustion(t *testing.T) {
	a := testInbox("a", 1, true)
	sel := NewInboxSelector([]domain.WarmupInbox{a})

	require.NotNil(t, sel.Next())
	assert.Nil(t, sel.Next())
	assert.Nil(t, sel.Next())
}

func TestInboxSelectorSkipsInactiveAndFull(t *testing.T) {
	inactive := testInbox("off", 10, true)
	inactive.Active = false
	full := testInbox("full", 3, true)
	full.ReceivedToday = 3
	open := testInbox("open", 3, false)

	sel := NewInboxSelector([]domain.WarmupInbox{inactive, full, open})

	in := sel.Next()
	require.NotNil(t, in)
	assert.Equal(t, "open", in.ID)
}

func TestInboxSelectorEmptyPool(t *testing.T) {
	sel := NewInboxSelector(nil)
	assert.Nil(t, sel.Next())
}
