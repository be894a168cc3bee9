package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeQuestionOnly(t *testing.T) {
	got := Compose("What is X?", nil, nil, "")
	assert.Equal(t, "Question: What is X?\n\nAnswer concisely. If unsure, say you are unsure.", got)
	assert.NotContains(t, got, "Context:")
	assert.NotContains(t, got, "Web search hints:")
}

func TestComposeAllBlocks(t *testing.T) {
	got := Compose("What is X?",
		[]string{"X is a letter.", "X follows W."},
		[]string{"hint one", "hint two"},
		"You are a tutor.")

	want := "You are a tutor.\n\n" +
		"Context:\nX is a letter.\n---\nX follows W.\n\n" +
		"Web search hints:\nhint one\nhint two\n\n" +
		"Question: What is X?\n\n" +
		"Answer concisely. If unsure, say you are unsure."
	assert.Equal(t, want, got)
}

func TestComposeWebOnly(t *testing.T) {
	got := Compose("q", []string{}, []string{"w"}, "   ")
	assert.Equal(t, "Web search hints:\nw\n\nQuestion: q\n\nAnswer concisely. If unsure, say you are unsure.", got)
}

func TestComposeIsDeterministic(t *testing.T) {
	ctx := []string{"a", "b"}
	assert.Equal(t, Compose("q", ctx, nil, "p"), Compose("q", ctx, nil, "p"))
}
