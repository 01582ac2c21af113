package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

const (
	defaultDeviceInterval = 5 * time.Second
	minDeviceInterval     = time.Second
	devicePollPadding     = 3 * time.Second
)

// DeviceAuthenticator runs the headless device-code flow. Polling has no
// deadline of its own and stops only on success, a fatal issuer answer or
// cancellation of ctx.
type DeviceAuthenticator struct {
	client *Client
	store  credentials.Store
	opts   flowOptions

	padding     time.Duration
	minInterval time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDeviceAuthenticator creates a device-code authenticator.
func NewDeviceAuthenticator(client *Client, store credentials.Store, opts ...Option) *DeviceAuthenticator {
	o := defaultFlowOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &DeviceAuthenticator{
		client:      client,
		store:       store,
		opts:        o,
		padding:     devicePollPadding,
		minInterval: minDeviceInterval,
		sleep:       sleepContext,
	}
}

// Login requests a user code, shows it, and polls until it is approved.
func (d *DeviceAuthenticator) Login(ctx context.Context) (*credentials.Credential, error) {
	dc, err := d.client.RequestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	verifyURL := d.client.DeviceVerificationURL()
	_, _ = fmt.Fprintf(d.opts.out, "\nTo sign in, open:\n\n  %s\n\nand enter the code:\n\n  %s\n\n", verifyURL, dc.UserCode)
	launchBrowser(d.opts.openBrowser, verifyURL)

	interval := d.pollInterval(dc.Interval)
	logger.Get().Info().Dur("interval", interval).Msg("Waiting for device authorization")

	for attempt := 1; ; attempt++ {
		auth, err := d.client.PollDeviceToken(ctx, dc)
		if errors.Is(err, errAuthorizationPending) {
			logger.Get().Debug().Int("attempt", attempt).Msg("Device authorization pending")
			if err := d.sleep(ctx, interval); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		tok, err := d.client.ExchangeDeviceAuthorization(ctx, auth)
		if err != nil {
			return nil, err
		}
		cred, err := persist(d.store, tok, d.opts.now(), "")
		if err != nil {
			return nil, err
		}
		logger.Get().Info().Str("account_id", cred.AccountID).Msg("Device authorization successful")
		return cred, nil
	}
}

// pollInterval is max(server interval, 1s) plus a fixed padding. A missing
// server interval counts as 5s.
func (d *DeviceAuthenticator) pollInterval(server time.Duration) time.Duration {
	if server <= 0 {
		server = defaultDeviceInterval
	}
	if server < d.minInterval {
		server = d.minInterval
	}
	return server + d.padding
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
