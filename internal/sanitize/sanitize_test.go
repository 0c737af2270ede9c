package sanitize

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"knowledge_chunks", "knowledge_chunks"},
		{"Knowledge Chunks", "knowledge_chunks"},
		{"team.kb/v2", "team_kb_v2"},
		{"__leading__and__trailing__", "leading_and_trailing"},
		{"a   b", "a_b"},
		{"", DefaultIdentifier},
		{"!!!", DefaultIdentifier},
		{"Café", "caf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.in))
		})
	}
}

func TestIdentifier_ValidCollectionName(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	for _, in := range []string{"Some Name!", strings.Repeat("x-", 80), "日本語", "a"} {
		assert.Regexp(t, valid, Identifier(in), "input %q", in)
	}
}

func TestTitleKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Doc A", "doc_a"},
		{"doc a", "doc_a"},
		{"Onboarding: Q3", "onboarding_q3"},
		{"Résumé tips", "résumé_tips"},
		{"日本語 ガイド", "日本語_ガイド"},
		{"  spaced  ", "spaced"},
		{"???", DefaultIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleKey(tt.in))
		})
	}
}

func TestTitleKey_LengthLimit(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := TitleKey(long)
	assert.Equal(t, MaxIdentifierLength, utf8.RuneCountInString(got))

	other := TitleKey(strings.Repeat("é", 99) + "e")
	assert.NotEqual(t, got, other, "distinct long titles must keep distinct keys")
}

func TestTitleKey_ExactlyMaxLength(t *testing.T) {
	exact := strings.Repeat("a", MaxIdentifierLength)
	assert.Equal(t, exact, TitleKey(exact))
}
