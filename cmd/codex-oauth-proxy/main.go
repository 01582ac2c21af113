package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvcrn/codex-oauth-proxy/internal/codex"
	"github.com/dvcrn/codex-oauth-proxy/internal/config"
	"github.com/dvcrn/codex-oauth-proxy/internal/credentials"
	serverhttp "github.com/dvcrn/codex-oauth-proxy/internal/http"
	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
	"github.com/dvcrn/codex-oauth-proxy/internal/metrics"
	"github.com/dvcrn/codex-oauth-proxy/internal/oauth"
	"github.com/dvcrn/codex-oauth-proxy/internal/server"
	"github.com/dvcrn/codex-oauth-proxy/internal/version"
)

type flags struct {
	authOnly bool
	device   bool
	port     int
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:     "codex-oauth-proxy",
		Short:   "OpenAI Chat Completions proxy for the ChatGPT Codex backend",
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
		SilenceUsage: true,
	}
	root.Flags().BoolVar(&f.authOnly, "auth-only", false, "sign in, save the credential and exit")
	root.Flags().BoolVar(&f.device, "device", false, "use the device-code flow instead of the browser flow")
	root.Flags().IntVar(&f.port, "port", 0, "listen port (overrides PORT)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Get().Fatal().Err(err).Msg("codex-oauth-proxy failed")
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if f.port > 0 {
		cfg.Port = f.port
	}

	store, err := credentials.NewFileStore(cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	logger.Get().Info().Str("store", store.Name()).Msg("Using credential store")

	httpClient := serverhttp.NewHTTPClient()
	oauthClient := oauth.NewClient(cfg.Issuer, httpClient)

	existing, ok := store.Load()
	if f.authOnly || !ok {
		if !ok {
			logger.Get().Warn().Str("path", store.Path()).Msg("No stored credentials, sign-in required")
		}
		if err := login(ctx, cfg, oauthClient, store, f.device); err != nil {
			return err
		}
		if f.authOnly {
			logger.Get().Info().Msg("Signed in. Start the proxy without --auth-only to serve requests")
			return nil
		}
	} else {
		logTokenLifetime(existing)
	}

	collector := metrics.New()
	tokens := oauth.NewTokenManager(store, oauthClient, oauth.WithRefreshObserver(collector.ObserveRefresh))
	upstream := codex.NewClient(httpClient, cfg.APIEndpoint)

	srv := server.NewServer(tokens, upstream, server.Options{
		APIKey:  cfg.APIKey,
		Metrics: collector,
		Port:    cfg.Port,
	})

	logger.Get().Info().
		Str("local_url", fmt.Sprintf("http://localhost:%d/v1", cfg.Port)).
		Str("lan_url", fmt.Sprintf("http://%s:%d/v1", lanAddress(), cfg.Port)).
		Str("status_url", fmt.Sprintf("http://localhost:%d/status", cfg.Port)).
		Str("auth_url", fmt.Sprintf("http://localhost:%d/auth", cfg.Port)).
		Str("upstream", upstream.Endpoint()).
		Bool("api_key_required", cfg.APIKey != "").
		Msg("Codex OAuth proxy ready")

	return srv.Start(ctx, cfg.Addr())
}

func login(ctx context.Context, cfg *config.Config, client *oauth.Client, store credentials.Store, device bool) error {
	logger.Get().Info().Str("issuer", client.Issuer()).Bool("device", device).Msg("Starting sign-in")

	var err error
	if device {
		_, err = oauth.NewDeviceAuthenticator(client, store).Login(ctx)
	} else {
		_, err = oauth.NewAuthenticator(client, store,
			oauth.WithCallbackAddr(cfg.CallbackAddr),
			oauth.WithTimeout(cfg.LoginTimeout),
		).Login(ctx)
	}
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	return nil
}

func logTokenLifetime(cred *credentials.Credential) {
	if cred.ExpiresAt == 0 {
		return
	}
	remaining := time.Until(cred.Expiry()).Round(time.Second)
	if remaining > 0 {
		logger.Get().Info().Dur("valid_for", remaining).Msg("Found stored credentials")
		return
	}
	logger.Get().Info().Msg("Stored access token expired, it will be refreshed on the next request")
}

// lanAddress returns the first non-loopback IPv4 address, or localhost.
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
