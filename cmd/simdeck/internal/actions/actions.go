// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package actions renders simulation action records for humans.
//
// Each action_type is a variant with its own renderer; unknown types fall
// back to a generic one so a new server-side action never breaks the
// dashboard.
package actions

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// Kind is an action_type value.
type Kind string

const (
	CreatePost     Kind = "CREATE_POST"
	CreateComment  Kind = "CREATE_COMMENT"
	LikePost       Kind = "LIKE_POST"
	DislikePost    Kind = "DISLIKE_POST"
	LikeComment    Kind = "LIKE_COMMENT"
	DislikeComment Kind = "DISLIKE_COMMENT"
	Repost         Kind = "REPOST"
	QuotePost      Kind = "QUOTE_POST"
	Follow         Kind = "FOLLOW"
	Mute           Kind = "MUTE"
	SearchPosts    Kind = "SEARCH_POSTS"
	SearchUser     Kind = "SEARCH_USER"
	Trend          Kind = "TREND"
	Refresh        Kind = "REFRESH"
	DoNothing      Kind = "DO_NOTHING"
)

// Category groups kinds for coloring and filtering.
type Category string

const (
	CategoryContent  Category = "content"
	CategoryReaction Category = "reaction"
	CategorySocial   Category = "social"
	CategoryDiscover Category = "discover"
	CategoryIdle     Category = "idle"
	CategoryOther    Category = "other"
)

// MaxQuoteRunes bounds quoted content in summaries.
const MaxQuoteRunes = 80

// Rendered is the human view of one action.
type Rendered struct {
	Kind     Kind     `json:"kind"`
	Category Category `json:"category"`
	Glyph    string   `json:"glyph"`
	Platform string   `json:"platform"`
	Agent    string   `json:"agent"`
	Round    int      `json:"round"`
	Success  bool     `json:"success"`

	// Summary is the one-line description without the agent name,
	// e.g. `liked bob's post: "hello"`.
	Summary string `json:"summary"`

	// Known reports whether a dedicated renderer handled the kind.
	Known bool `json:"known"`
}

// Line renders the action as a single log line.
func (r Rendered) Line() string {
	status := ""
	if !r.Success {
		status = " (failed)"
	}
	return fmt.Sprintf("R%d %s %s %s %s%s", r.Round, r.Platform, r.Glyph, r.Agent, r.Summary, status)
}

// variant renders one action kind.
type variant struct {
	category Category
	glyph    string
	describe func(args) string
}

var variants = map[Kind]variant{
	CreatePost: {CategoryContent, "✎", func(a args) string {
		if c := a.quoted("content"); c != "" {
			return "posted: " + c
		}
		return "posted"
	}},
	CreateComment: {CategoryContent, "💬", func(a args) string {
		target := a.target("post_author_name", "post_content", "post")
		if c := a.quoted("content"); c != "" {
			return fmt.Sprintf("commented on %s: %s", target, c)
		}
		return "commented on " + target
	}},
	LikePost: {CategoryReaction, "♥", func(a args) string {
		return "liked " + a.target("post_author_name", "post_content", "post")
	}},
	DislikePost: {CategoryReaction, "↓", func(a args) string {
		return "disliked " + a.target("post_author_name", "post_content", "post")
	}},
	LikeComment: {CategoryReaction, "♥", func(a args) string {
		return "liked " + a.target("comment_author_name", "comment_content", "comment")
	}},
	DislikeComment: {CategoryReaction, "↓", func(a args) string {
		return "disliked " + a.target("comment_author_name", "comment_content", "comment")
	}},
	Repost: {CategoryContent, "⟳", func(a args) string {
		return "reposted " + a.target("original_author_name", "original_content", "post")
	}},
	QuotePost: {CategoryContent, "❝", func(a args) string {
		s := "quoted " + a.target("original_author_name", "original_content", "post")
		c := a.quoted("quote_content")
		if c == "" {
			c = a.quoted("content")
		}
		if c != "" {
			s += " adding " + c
		}
		return s
	}},
	Follow: {CategorySocial, "+", func(a args) string {
		if u := a.str("target_user_name"); u != "" {
			return "followed " + u
		}
		return "followed a user"
	}},
	Mute: {CategorySocial, "∅", func(a args) string {
		if u := a.str("target_user_name"); u != "" {
			return "muted " + u
		}
		return "muted a user"
	}},
	SearchPosts: {CategoryDiscover, "⌕", func(a args) string {
		if q := a.first("query", "keyword"); q != "" {
			return fmt.Sprintf("searched posts for %q", q)
		}
		return "searched posts"
	}},
	SearchUser: {CategoryDiscover, "⌕", func(a args) string {
		if q := a.first("query", "username"); q != "" {
			return fmt.Sprintf("searched users for %q", q)
		}
		return "searched users"
	}},
	Trend: {CategoryDiscover, "↗", func(a args) string {
		return "checked trending topics"
	}},
	Refresh: {CategoryDiscover, "↻", func(a args) string {
		return "refreshed the feed"
	}},
	DoNothing: {CategoryIdle, "·", func(a args) string {
		return "idled"
	}},
}

// Render turns one record into its human view.
func Render(rec api.ActionRecord) Rendered {
	kind := Kind(strings.ToUpper(strings.TrimSpace(rec.ActionType)))
	out := Rendered{
		Kind:     kind,
		Platform: rec.Platform,
		Agent:    agentLabel(rec),
		Round:    rec.RoundNum,
		Success:  rec.Success,
	}

	v, ok := variants[kind]
	if !ok {
		out.Category = CategoryOther
		out.Glyph = "•"
		out.Summary = fallback(rec)
		return out
	}
	out.Known = true
	out.Category = v.category
	out.Glyph = v.glyph
	out.Summary = v.describe(args(rec.ActionArgs))
	return out
}

// Kinds lists every kind with a dedicated renderer, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(variants))
	for k := range variants {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counts tallies records per kind.
func Counts(recs []api.ActionRecord) map[Kind]int {
	out := make(map[Kind]int)
	for _, r := range recs {
		out[Kind(strings.ToUpper(r.ActionType))]++
	}
	return out
}

func fallback(rec api.ActionRecord) string {
	name := strings.ToLower(strings.ReplaceAll(rec.ActionType, "_", " "))
	if name == "" {
		name = "unknown action"
	}
	keys := make([]string, 0, len(rec.ActionArgs))
	for k := range rec.ActionArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return "performed " + name
	}
	return fmt.Sprintf("performed %s (%s)", name, strings.Join(keys, ", "))
}

func agentLabel(rec api.ActionRecord) string {
	if rec.AgentName != "" {
		return rec.AgentName
	}
	return fmt.Sprintf("agent-%d", rec.AgentID)
}

// =============================================================================
// Argument Helpers
// =============================================================================

type args map[string]any

func (a args) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (a args) first(keys ...string) string {
	for _, k := range keys {
		if s := a.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (a args) quoted(key string) string {
	s := a.str(key)
	if s == "" {
		return ""
	}
	return fmt.Sprintf("%q", truncate(s, MaxQuoteRunes))
}

// target describes the object of a reaction: "bob's post", a quoted
// snippet, or both.
func (a args) target(authorKey, contentKey, noun string) string {
	author := a.str(authorKey)
	content := a.quoted(contentKey)
	switch {
	case author != "" && content != "":
		return fmt.Sprintf("%s's %s %s", author, noun, content)
	case author != "":
		return fmt.Sprintf("%s's %s", author, noun)
	case content != "":
		return fmt.Sprintf("a %s %s", noun, content)
	default:
		return "a " + noun
	}
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
