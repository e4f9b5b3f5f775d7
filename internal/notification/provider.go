// Package notification pushes selected lifecycle events to external services
// through shoutrrr URLs (ntfy, Telegram, Slack, generic webhooks...).
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Notification is one push message.
type Notification struct {
	Title   string
	Message string
}

// Provider delivers notifications to one destination group.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// ShoutrrrProvider sends through a shoutrrr service router.
type ShoutrrrProvider struct {
	name    string
	urls    []string
	timeout time.Duration
	sender  *router.ServiceRouter
}

// NewShoutrrrProvider creates a provider for urls. The router is built by
// ValidateConfig.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) *ShoutrrrProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShoutrrrProvider{name: name, urls: urls, timeout: timeout}
}

func (p *ShoutrrrProvider) Name() string { return p.name }

// ValidateConfig parses the URLs and prepares the sender.
func (p *ShoutrrrProvider) ValidateConfig() error {
	if len(p.urls) == 0 {
		return fmt.Errorf("provider %s has no urls", p.name)
	}
	sender, err := shoutrrr.CreateSender(p.urls...)
	if err != nil {
		return fmt.Errorf("invalid shoutrrr url for provider %s: %w", p.name, err)
	}
	p.sender = sender
	return nil
}

func (p *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if p.sender == nil {
		if err := p.ValidateConfig(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := types.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	done := make(chan []error, 1)
	go func() {
		done <- p.sender.Send(n.Message, &params)
	}()

	select {
	case errs := <-done:
		for _, err := range errs {
			if err != nil {
				return fmt.Errorf("failed to send via %s: %w", p.name, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send via %s: %w", p.name, ctx.Err())
	}
}
