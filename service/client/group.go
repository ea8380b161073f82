package client

import (
	"sort"
	"time"

	"MeshHub/service/model"
)

// groupGap is the largest distance from a group's anchor that still
// joins the group.
const groupGap = 5 * time.Minute

// MessageGroup is a run of messages rendered under one timestamp
// header. AnchorTime is the first message's CreatedAt.
type MessageGroup struct {
	AnchorTime int64               `json:"anchor_time"`
	Messages   []model.ChatMessage `json:"messages"`
}

// GroupByTime buckets messages for display: ascending order, new
// bucket whenever a message lands more than groupGap after the
// current bucket's anchor. The anchor does not slide, so a long
// steady trickle still breaks into readable chunks. Input order does
// not matter and the input slice is not modified.
func GroupByTime(msgs []model.ChatMessage) []MessageGroup {
	if len(msgs) == 0 {
		return nil
	}
	sorted := make([]model.ChatMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	gapMs := groupGap.Milliseconds()
	var groups []MessageGroup
	for _, m := range sorted {
		n := len(groups)
		if n == 0 || m.CreatedAt-groups[n-1].AnchorTime > gapMs {
			groups = append(groups, MessageGroup{AnchorTime: m.CreatedAt})
			n++
		}
		groups[n-1].Messages = append(groups[n-1].Messages, m)
	}
	return groups
}
