package detectors

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

// ImageScanner extracts text from an image attachment, e.g. through OCR.
type ImageScanner interface {
	ExtractText(ctx context.Context, att moderation.Attachment) (string, error)
}

// NSFW reports messages whose text, image filenames or scanned image text
// contain a configured term.
type NSFW struct {
	terms      []flaggedPhrase
	extensions map[string]bool
	scanner    ImageScanner
	log        logger.Logger
}

// NewNSFW creates the detector. scanner may be nil.
func NewNSFW(terms, imageExtensions []string, scanner ImageScanner, log logger.Logger) *NSFW {
	d := &NSFW{
		extensions: make(map[string]bool, len(imageExtensions)),
		scanner:    scanner,
		log:        log.Module("nsfw"),
	}
	for _, t := range terms {
		if n := Normalize(t); n != "" {
			d.terms = append(d.terms, flaggedPhrase{original: t, normalized: n})
		}
	}
	for _, ext := range imageExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.extensions[ext] = true
	}
	return d
}

func (d *NSFW) Name() string { return "nsfw" }

func (d *NSFW) Evaluate(ctx context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error) {
	if len(d.terms) == 0 {
		return nil, nil
	}
	evidence, ok := d.inspect(ctx, msg)
	if !ok {
		return nil, nil
	}
	return []moderation.Violation{{
		Kind:            moderation.KindNSFW,
		GuildID:         msg.GuildID,
		ChannelID:       msg.ChannelID,
		SourceMessageID: msg.ID,
		AuthorID:        msg.AuthorID,
		Evidence:        evidence,
		DetectedAt:      timestampOrNow(msg.Timestamp),
	}}, nil
}

func (d *NSFW) inspect(ctx context.Context, msg *moderation.MessageEvent) (string, bool) {
	if term, ok := d.match(msg.Content); ok {
		return fmt.Sprintf("text: %s", term), true
	}
	for _, att := range msg.Attachments {
		if !d.IsImage(att) {
			continue
		}
		if term, ok := d.match(strings.TrimSuffix(att.Filename, path.Ext(att.Filename))); ok {
			return fmt.Sprintf("attachment %s: %s", att.Filename, term), true
		}
		if d.scanner == nil {
			continue
		}
		text, err := d.scanner.ExtractText(ctx, att)
		if err != nil {
			// One unreadable image must not hide the others.
			d.log.Warn("image scan failed",
				logger.String("message_id", msg.ID),
				logger.String("attachment", att.Filename),
				logger.Error(err))
			continue
		}
		if term, ok := d.match(text); ok {
			return fmt.Sprintf("image text in %s: %s", att.Filename, term), true
		}
	}
	return "", false
}

// IsImage reports whether an attachment is an image by extension or content type.
func (d *NSFW) IsImage(att moderation.Attachment) bool {
	if d.extensions[strings.ToLower(path.Ext(att.Filename))] {
		return true
	}
	return strings.HasPrefix(strings.ToLower(att.ContentType), "image/")
}

func (d *NSFW) match(text string) (string, bool) {
	normalized := Normalize(text)
	for _, t := range d.terms {
		if containsPhrase(normalized, t.normalized) {
			return t.original, true
		}
	}
	return "", false
}
