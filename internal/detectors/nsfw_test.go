package detectors

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

type fakeScanner struct {
	mu      sync.Mutex
	texts   map[string]string
	fail    map[string]bool
	scanned []string
}

func (s *fakeScanner) ExtractText(_ context.Context, att moderation.Attachment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned = append(s.scanned, att.Filename)
	if s.fail[att.Filename] {
		return "", errors.New("unreadable image")
	}
	return s.texts[att.Filename], nil
}

func TestNSFW_Evaluate(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		texts: map[string]string{"meme.png": "totally NSFW content"},
		fail:  map[string]bool{"broken.jpg": true},
	}
	d := NewNSFW([]string{"nsfw", "explicit"}, []string{"png", ".JPG"}, scanner, logger.NewNop())

	tests := []struct {
		name        string
		content     string
		attachments []moderation.Attachment
		evidence    string
	}{
		{
			name:     "text",
			content:  "some Explicit stuff",
			evidence: "text: explicit",
		},
		{
			name:        "filename",
			attachments: []moderation.Attachment{{Filename: "explicit_pic.png"}},
			evidence:    "attachment explicit_pic.png: explicit",
		},
		{
			name:        "scanned text after failed scan",
			attachments: []moderation.Attachment{{Filename: "broken.jpg"}, {Filename: "meme.png"}},
			evidence:    "image text in meme.png: nsfw",
		},
		{
			name:        "non image ignored",
			attachments: []moderation.Attachment{{Filename: "nsfw.txt", ContentType: "text/plain"}},
		},
		{
			name:    "clean",
			content: "hello",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.Evaluate(t.Context(), &moderation.MessageEvent{
				ID: "m1", GuildID: "g1", ChannelID: "c1", AuthorID: "u1",
				Content: tt.content, Attachments: tt.attachments,
			})
			require.NoError(t, err)
			if tt.evidence == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, moderation.KindNSFW, got[0].Kind)
			assert.Equal(t, tt.evidence, got[0].Evidence)
		})
	}
}

func TestNSFW_IsImage(t *testing.T) {
	t.Parallel()

	d := NewNSFW([]string{"x"}, []string{"webp"}, nil, logger.NewNop())
	assert.True(t, d.IsImage(moderation.Attachment{Filename: "a.WEBP"}))
	assert.True(t, d.IsImage(moderation.Attachment{Filename: "noext", ContentType: "image/gif"}))
	assert.False(t, d.IsImage(moderation.Attachment{Filename: "a.pdf", ContentType: "application/pdf"}))
}

func TestNSFW_NoTermsNeverScans(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{}
	d := NewNSFW(nil, []string{"png"}, scanner, logger.NewNop())
	got, err := d.Evaluate(t.Context(), &moderation.MessageEvent{
		Attachments: []moderation.Attachment{{Filename: "a.png"}},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, scanner.scanned)
}
