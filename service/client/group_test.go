package client

import (
	"testing"
	"time"

	"MeshHub/service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id string, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		ID:        id,
		Content:   "body " + id,
		Kind:      model.KindText,
		CreatedAt: at.UnixMilli(),
		Author:    model.ChatUser{ID: "u1"},
	}
}

func TestGroupByTimeEmpty(t *testing.T) {
	assert.Nil(t, GroupByTime(nil))
	assert.Nil(t, GroupByTime([]model.ChatMessage{}))
}

func TestGroupByTimeWithinWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	groups := GroupByTime([]model.ChatMessage{
		msgAt("m-1", t0),
		msgAt("m-2", t0.Add(4*time.Minute)),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, t0.UnixMilli(), groups[0].AnchorTime)
	assert.Len(t, groups[0].Messages, 2)
}

func TestGroupByTimeBeyondWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	groups := GroupByTime([]model.ChatMessage{
		msgAt("m-1", t0),
		msgAt("m-2", t0.Add(6*time.Minute)),
	})
	require.Len(t, groups, 2)
	assert.Equal(t, t0.Add(6*time.Minute).UnixMilli(), groups[1].AnchorTime)
}

// The anchor stays put: a message 4 minutes after its neighbor still
// opens a new group when it is past the window from the anchor.
func TestGroupAnchorDoesNotSlide(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	groups := GroupByTime([]model.ChatMessage{
		msgAt("m-1", t0),
		msgAt("m-2", t0.Add(4*time.Minute)),
		msgAt("m-3", t0.Add(6*time.Minute)),
	})
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Messages, 2)
	require.Len(t, groups[1].Messages, 1)
	assert.Equal(t, "m-3", groups[1].Messages[0].ID)
}

func TestGroupByTimeSortsInput(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []model.ChatMessage{
		msgAt("m-2", t0.Add(10*time.Minute)),
		msgAt("m-1", t0),
	}
	groups := GroupByTime(in)
	require.Len(t, groups, 2)
	assert.Equal(t, "m-1", groups[0].Messages[0].ID)

	// Input order untouched.
	assert.Equal(t, "m-2", in[0].ID)
}

func TestGroupByTimeDeterministicOnTies(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := GroupByTime([]model.ChatMessage{msgAt("m-2", t0), msgAt("m-1", t0)})
	b := GroupByTime([]model.ChatMessage{msgAt("m-1", t0), msgAt("m-2", t0)})
	require.Len(t, a, 1)
	assert.Equal(t, a, b)
	assert.Equal(t, "m-1", a[0].Messages[0].ID)
}
