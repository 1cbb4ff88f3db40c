package platform

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"strings"
	"time"

	"github.com/k3a/html2text"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
)

// messageSender is the part of the shoutrrr router the sink uses.
type messageSender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrSink renders displayed notifications to shoutrrr service URLs
// (ntfy, gotify, telegram, smtp and the rest).
type ShoutrrrSink struct {
	sender messageSender
	log    logger.Logger
}

// NewShoutrrrSink validates urls and builds a sender for all of them.
func NewShoutrrrSink(urls []string, timeout time.Duration, log logger.Logger) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		// The raw error may echo credentials embedded in the URL
		return nil, errors.Newf("invalid shoutrrr URL: %s", logger.RedactSensitiveData(err.Error())).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	return newShoutrrrSink(sender, log), nil
}

func newShoutrrrSink(sender messageSender, log logger.Logger) *ShoutrrrSink {
	return &ShoutrrrSink{sender: sender, log: moduleLogger(log, "shoutrrr")}
}

func (s *ShoutrrrSink) Name() string { return "shoutrrr" }

// Deliver sends r as a plain text message. The router enforces its own timeout.
func (s *ShoutrrrSink) Deliver(_ context.Context, r Rendered) error {
	params := stypes.Params{}
	if r.Payload.Title != "" {
		params.SetTitle(r.Payload.Title)
	}

	for _, err := range s.sender.Send(RenderText(r), &params) {
		if err != nil {
			return errors.Newf("shoutrrr delivery failed: %s", logger.RedactSensitiveData(err.Error())).
				Component(componentName).
				Category(errors.CategoryNetwork).
				Context("notification_id", r.ID).
				Build()
		}
	}
	s.log.Debug("notification relayed", logger.String("notification_id", r.ID))
	return nil
}

// RenderText builds the plain text body of a notification. Long text wins
// over the short body and HTML content is converted to text.
func RenderText(r Rendered) string {
	text := r.Payload.Body
	if r.Payload.LongText != "" {
		text = r.Payload.LongText
	}
	if looksLikeHTML(text) {
		text = html2text.HTML2Text(text)
	}
	text = strings.TrimSpace(text)

	if len(r.Payload.Actions) > 0 {
		labels := make([]string, 0, len(r.Payload.Actions))
		for _, a := range r.Payload.Actions {
			labels = append(labels, a.Label)
		}
		text += "\n\nActions: " + strings.Join(labels, ", ")
	}
	if r.Payload.ImageURL != "" {
		text += "\n" + r.Payload.ImageURL
	}
	return strings.TrimSpace(text)
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}
