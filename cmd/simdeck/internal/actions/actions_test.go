// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

func rec(kind string, a map[string]any) api.ActionRecord {
	return api.ActionRecord{RoundNum: 3, Platform: "twitter", AgentID: 1, AgentName: "alice", ActionType: kind, ActionArgs: a, Success: true}
}

func TestRender_Variants(t *testing.T) {
	tests := []struct {
		kind string
		args map[string]any
		want string
	}{
		{"CREATE_POST", map[string]any{"content": "hello world"}, `posted: "hello world"`},
		{"CREATE_POST", nil, "posted"},
		{"CREATE_COMMENT", map[string]any{"content": "agreed", "post_author_name": "bob"}, `commented on bob's post: "agreed"`},
		{"LIKE_POST", map[string]any{"post_author_name": "bob", "post_content": "hi"}, `liked bob's post "hi"`},
		{"LIKE_POST", nil, "liked a post"},
		{"DISLIKE_POST", map[string]any{"post_content": "meh"}, `disliked a post "meh"`},
		{"LIKE_COMMENT", map[string]any{"comment_author_name": "carol"}, "liked carol's comment"},
		{"DISLIKE_COMMENT", nil, "disliked a comment"},
		{"REPOST", map[string]any{"original_author_name": "dan"}, "reposted dan's post"},
		{"QUOTE_POST", map[string]any{"original_author_name": "dan", "quote_content": "so true"}, `quoted dan's post adding "so true"`},
		{"FOLLOW", map[string]any{"target_user_name": "erin"}, "followed erin"},
		{"MUTE", nil, "muted a user"},
		{"SEARCH_POSTS", map[string]any{"keyword": "election"}, `searched posts for "election"`},
		{"SEARCH_USER", map[string]any{"query": "frank"}, `searched users for "frank"`},
		{"TREND", nil, "checked trending topics"},
		{"REFRESH", nil, "refreshed the feed"},
		{"DO_NOTHING", nil, "idled"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			r := Render(rec(tt.kind, tt.args))
			assert.True(t, r.Known)
			assert.Equal(t, tt.want, r.Summary)
		})
	}
}

func TestRender_Fallback(t *testing.T) {
	r := Render(rec("INTERVIEW", map[string]any{"prompt": "x", "answer": "y"}))
	assert.False(t, r.Known)
	assert.Equal(t, CategoryOther, r.Category)
	assert.Equal(t, "performed interview (answer, prompt)", r.Summary)

	r = Render(rec("", nil))
	assert.Equal(t, "performed unknown action", r.Summary)
}

func TestRender_CaseInsensitiveKind(t *testing.T) {
	r := Render(rec("like_post", nil))
	assert.True(t, r.Known)
	assert.Equal(t, LikePost, r.Kind)
}

func TestRendered_Line(t *testing.T) {
	r := Render(rec("FOLLOW", map[string]any{"target_user_name": "erin"}))
	assert.Equal(t, "R3 twitter + alice followed erin", r.Line())

	failed := rec("FOLLOW", nil)
	failed.Success = false
	failed.AgentName = ""
	assert.Equal(t, "R3 twitter + agent-1 followed a user (failed)", Render(failed).Line())
}

func TestRender_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("word ", 50)
	r := Render(rec("CREATE_POST", map[string]any{"content": long}))
	assert.True(t, strings.HasSuffix(r.Summary, `…"`))
	assert.LessOrEqual(t, len([]rune(r.Summary)), MaxQuoteRunes+10)
}

func TestKindsAndCounts(t *testing.T) {
	assert.Len(t, Kinds(), 15)
	counts := Counts([]api.ActionRecord{rec("LIKE_POST", nil), rec("like_post", nil), rec("FOLLOW", nil)})
	assert.Equal(t, 2, counts[LikePost])
	assert.Equal(t, 1, counts[Follow])
}
