package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		emoji    string
		reaction Reaction
		action   Action
	}{
		{EmojiConfirm, ReactionConfirm, ""},
		{EmojiDismiss, ReactionDismiss, ""},
		{EmojiWarn, ReactionPenalty, ActionWarn},
		{"⚠", ReactionPenalty, ActionWarn},
		{EmojiMute, ReactionPenalty, ActionMute},
		{EmojiKick, ReactionPenalty, ActionKick},
		{EmojiBan, ReactionPenalty, ActionBan},
		{"👍", ReactionUnknown, ""},
		{"", ReactionUnknown, ""},
	}
	for _, tt := range tests {
		reaction, action := ParseEmoji(tt.emoji)
		assert.Equal(t, tt.reaction, reaction, "emoji %q", tt.emoji)
		assert.Equal(t, tt.action, action, "emoji %q", tt.emoji)
	}
}

func TestEmojiForRoundTrips(t *testing.T) {
	t.Parallel()
	for _, action := range []Action{ActionWarn, ActionMute, ActionKick, ActionBan} {
		reaction, parsed := ParseEmoji(EmojiFor(action))
		assert.Equal(t, ReactionPenalty, reaction)
		assert.Equal(t, action, parsed)
	}
	assert.Empty(t, EmojiFor("timeout"))
}
