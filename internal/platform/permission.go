package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// PermissionKey is the store key of the persisted permission decision.
const PermissionKey = "notification.permission"

// Permission request policies.
const (
	PolicyGrant       = "grant"
	PolicyDeny        = "deny"
	PolicyProvisional = "provisional"
	PolicyTerminal    = "terminal"
)

// Opener opens a URL with the desktop's default handler.
type Opener func(ctx context.Context, target string) error

// CommandOpener returns an Opener running command with the target as its
// only argument, e.g. xdg-open or open.
func CommandOpener(command string) Opener {
	return func(ctx context.Context, target string) error {
		return exec.CommandContext(ctx, command, target).Run()
	}
}

// PermissionConfig configures DesktopPermission.
type PermissionConfig struct {
	Policy                  string
	NotificationSettingsURL string
	AppSettingsURL          string
	Opener                  Opener

	// Prompt input and output for the terminal policy
	In  io.Reader
	Out io.Writer
}

// DesktopPermission emulates the OS permission dialog. The user's decision
// is persisted so it survives restarts, and a decided state is never asked
// again. It implements notification.PermissionPlatform.
type DesktopPermission struct {
	cfg   PermissionConfig
	store notification.KVStore
	log   logger.Logger

	mu sync.Mutex
}

var _ notification.PermissionPlatform = (*DesktopPermission)(nil)

// NewDesktopPermission creates the permission capability.
func NewDesktopPermission(cfg PermissionConfig, store notification.KVStore, log logger.Logger) *DesktopPermission {
	if cfg.Policy == "" {
		cfg.Policy = PolicyGrant
	}
	return &DesktopPermission{cfg: cfg, store: store, log: moduleLogger(log, "permission")}
}

// Status returns the persisted decision, undetermined when none was made.
func (p *DesktopPermission) Status(ctx context.Context) (notification.PermissionState, error) {
	raw, ok, err := p.store.Get(ctx, PermissionKey)
	if err != nil {
		return notification.PermissionUndetermined, errors.New(err).
			Component(componentName).
			Category(errors.CategoryPermission).
			Context("operation", "status").
			Build()
	}
	if !ok {
		return notification.PermissionUndetermined, nil
	}
	return notification.ParsePermissionState(raw), nil
}

// Request prompts according to the policy. Like the OS dialog it only
// prompts while the state is undetermined.
func (p *DesktopPermission) Request(ctx context.Context) (notification.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.Status(ctx)
	if err != nil {
		return current, err
	}
	if current != notification.PermissionUndetermined {
		return current, nil
	}

	var decided notification.PermissionState
	switch p.cfg.Policy {
	case PolicyGrant:
		decided = notification.PermissionAuthorized
	case PolicyDeny:
		decided = notification.PermissionDenied
	case PolicyProvisional:
		decided = notification.PermissionProvisional
	case PolicyTerminal:
		decided, err = p.prompt(ctx)
		if err != nil {
			return notification.PermissionUndetermined, err
		}
	default:
		return notification.PermissionUndetermined, errors.Newf("unknown permission policy %q", p.cfg.Policy).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := p.SetState(ctx, decided); err != nil {
		return notification.PermissionUndetermined, err
	}
	p.log.Info("permission decided",
		logger.String("policy", p.cfg.Policy),
		logger.String("state", string(decided)))
	return decided, nil
}

type promptResult struct {
	line string
	err  error
}

// prompt asks on the terminal. An unanswered prompt leaves the state
// undetermined; only an explicit answer is persisted.
func (p *DesktopPermission) prompt(ctx context.Context) (notification.PermissionState, error) {
	if p.cfg.In == nil || p.cfg.Out == nil {
		return notification.PermissionUndetermined, errors.Newf("terminal permission prompt has no terminal").
			Component(componentName).
			Category(errors.CategoryPermission).
			Build()
	}
	if _, err := fmt.Fprint(p.cfg.Out, "Allow notifications? [y/N]: "); err != nil {
		return notification.PermissionUndetermined, err
	}

	answer := make(chan promptResult, 1)
	go func() {
		line, err := bufio.NewReader(p.cfg.In).ReadString('\n')
		answer <- promptResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return notification.PermissionUndetermined, errors.New(ctx.Err()).
			Component(componentName).
			Category(errors.CategoryCancellation).
			Build()
	case res := <-answer:
		if res.err != nil && res.line == "" {
			return notification.PermissionUndetermined, errors.New(res.err).
				Component(componentName).
				Category(errors.CategoryPermission).
				Context("operation", "prompt").
				Build()
		}
		switch strings.ToLower(strings.TrimSpace(res.line)) {
		case "y", "yes":
			return notification.PermissionAuthorized, nil
		default:
			return notification.PermissionDenied, nil
		}
	}
}

// SetState overrides the persisted decision, as the user would in the
// system settings.
func (p *DesktopPermission) SetState(ctx context.Context, state notification.PermissionState) error {
	if err := p.store.Set(ctx, PermissionKey, string(state)); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryPermission).
			Context("operation", "persist").
			Build()
	}
	return nil
}

// OpenNotificationSettings opens the notification settings link.
func (p *DesktopPermission) OpenNotificationSettings(ctx context.Context) error {
	if p.cfg.NotificationSettingsURL == "" {
		return notification.ErrSettingsLinkUnsupported
	}
	return p.open(ctx, p.cfg.NotificationSettingsURL)
}

// OpenAppSettings opens the generic settings link.
func (p *DesktopPermission) OpenAppSettings(ctx context.Context) error {
	if p.cfg.AppSettingsURL == "" {
		return errors.Newf("no app settings URL configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return p.open(ctx, p.cfg.AppSettingsURL)
}

func (p *DesktopPermission) open(ctx context.Context, target string) error {
	if p.cfg.Opener == nil {
		return errors.Newf("no settings opener configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := p.cfg.Opener(ctx, target); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryCommandExecution).
			Context("target", target).
			Build()
	}
	p.log.Debug("settings opened", logger.String("target", target))
	return nil
}
