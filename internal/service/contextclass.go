package service

import (
	"strings"

	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
)

// #region keywords

var workKeywords = []string{
	"office", "coworking", "cowork", "meeting", "conference",
	"networking", "work lunch", "business", "workspace", "study",
}

var socialKeywords = []string{
	"bar", "party", "meetup", "date", "dinner with", "friends",
	"hangout", "social", "karaoke", "pub", "brunch",
}

var explorationKeywords = []string{
	"hidden", "new opening", "pop-up", "popup", "underground",
	"off the beaten", "secret", "undiscovered", "first visit",
}

var locationKeywords = []string{
	"travel", "trip", "vacation", "neighborhood", "out of town",
	"visiting", "tourist", "roadtrip", "abroad",
}

var activityKeywords = []string{
	"concert", "show", "gig", "workshop", "class", "festival",
	"game night", "sports", "hike", "climbing", "museum",
}

// #endregion keywords

// #region classify

// ClassifyContext derives the situational context behind an action from its
// tags, falling back to the metadata shape. A general result means no context
// is active and the change belongs to the core layer. No model call.
func ClassifyContext(action learning.Action) (contextID string, ctype persona.ContextType) {
	joined := strings.ToLower(strings.Join(action.Tags, " "))

	ctype = classifyTags(joined)
	if ctype == persona.ContextGeneral {
		ctype = classifyShape(action)
	}
	if ctype == persona.ContextGeneral {
		return "", persona.ContextGeneral
	}
	return string(ctype), ctype
}

func classifyTags(joined string) persona.ContextType {
	if joined == "" {
		return persona.ContextGeneral
	}
	// Work before social — "work lunch" is work, not a lunch date.
	for _, kw := range workKeywords {
		if strings.Contains(joined, kw) {
			return persona.ContextWork
		}
	}
	for _, kw := range socialKeywords {
		if strings.Contains(joined, kw) {
			return persona.ContextSocial
		}
	}
	for _, kw := range explorationKeywords {
		if strings.Contains(joined, kw) {
			return persona.ContextExploration
		}
	}
	for _, kw := range locationKeywords {
		if strings.Contains(joined, kw) {
			return persona.ContextLocation
		}
	}
	for _, kw := range activityKeywords {
		if strings.Contains(joined, kw) {
			return persona.ContextActivity
		}
	}
	return persona.ContextGeneral
}

// classifyShape falls back to the typed metadata when tags say nothing.
// Untagged actions stay general so ordinary activity keeps feeding the core
// layer; only an explicit group signal reads as a social context.
func classifyShape(action learning.Action) persona.ContextType {
	if meta, ok := action.Meta.(learning.EventAttend); ok {
		if meta.WithGroup != nil && *meta.WithGroup {
			return persona.ContextSocial
		}
	}
	return persona.ContextGeneral
}

// #endregion classify
