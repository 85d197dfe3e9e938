package service

import (
	"testing"

	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
)

func boolPtr(v bool) *bool { return &v }

func TestClassifyContextByTags(t *testing.T) {
	cases := []struct {
		name string
		tags []string
		want persona.ContextType
	}{
		{"work", []string{"Coworking Space"}, persona.ContextWork},
		{"social", []string{"karaoke night"}, persona.ContextSocial},
		{"exploration", []string{"hidden gem"}, persona.ContextExploration},
		{"location", []string{"weekend trip"}, persona.ContextLocation},
		{"activity", []string{"jazz concert"}, persona.ContextActivity},
		{"untagged", nil, persona.ContextGeneral},
		{"unmatched", []string{"quiet afternoon"}, persona.ContextGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ctype := ClassifyContext(learning.Action{Type: learning.ActionSpotVisit, Tags: tc.tags})
			if ctype != tc.want {
				t.Fatalf("type = %s, want %s", ctype, tc.want)
			}
			if tc.want == persona.ContextGeneral && id != "" {
				t.Fatalf("general context got id %q", id)
			}
			if tc.want != persona.ContextGeneral && id != string(tc.want) {
				t.Fatalf("id = %q, want %q", id, tc.want)
			}
		})
	}
}

func TestClassifyContextWorkBeatsSocial(t *testing.T) {
	// "work lunch" matches both lists; work wins.
	_, ctype := ClassifyContext(learning.Action{
		Type: learning.ActionSpotVisit,
		Tags: []string{"work lunch", "dinner with the team"},
	})
	if ctype != persona.ContextWork {
		t.Fatalf("type = %s, want work", ctype)
	}
}

func TestClassifyContextShapeFallback(t *testing.T) {
	// An explicit group event reads as social even without tags.
	id, ctype := ClassifyContext(learning.Action{
		Type: learning.ActionEventAttend,
		Meta: learning.EventAttend{WithGroup: boolPtr(true)},
	})
	if ctype != persona.ContextSocial || id != string(persona.ContextSocial) {
		t.Fatalf("got %q/%s, want social", id, ctype)
	}

	// A solo event stays general so it keeps feeding the core layer.
	id, ctype = ClassifyContext(learning.Action{
		Type: learning.ActionEventAttend,
		Meta: learning.EventAttend{WithGroup: boolPtr(false)},
	})
	if ctype != persona.ContextGeneral || id != "" {
		t.Fatalf("got %q/%s, want general", id, ctype)
	}
}
