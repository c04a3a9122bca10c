package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"assistbot/internal/domain"
	"assistbot/internal/infra/config"
)

// blockedResources are aborted before they are fetched.
var blockedResources = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeFont:       true,
}

// chromeBrowser is a Browser backed by a Chrome instance driven over CDP.
type chromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	engineURL  string
	userAgent  string
	selectors  Selectors
	navTimeout time.Duration
	resultWait time.Duration
	logger     *slog.Logger
}

// ChromeDPLauncher returns a Launcher that starts Chrome locally, or
// attaches to cfg.RemoteURL when set.
func ChromeDPLauncher(cfg config.SearchConfig, logger *slog.Logger) Launcher {
	return func(ctx context.Context) (Browser, error) {
		return launchChrome(ctx, cfg, logger)
	}
}

func launchChrome(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) (*chromeBrowser, error) {
	b := &chromeBrowser{
		engineURL:  cfg.EngineURL,
		userAgent:  cfg.UserAgent,
		selectors:  SelectorsFromConfig(cfg),
		navTimeout: cfg.NavTimeout,
		resultWait: cfg.ResultWait,
		logger:     logger,
	}

	// The browser must outlive ctx, so the allocator hangs off Background.
	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		logger.Info("chromedp connecting to remote browser", "url", cfg.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.ProfileDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
		}
		allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		logger.Info("chromedp launching local browser", "headless", cfg.Headless, "profile", cfg.ProfileDir)
	}

	b.browserCtx, b.browserCancel = chromedp.NewContext(allocCtx)

	// The first Run binds the browser to browserCtx, so it must not be given
	// a derived timeout context. The launch deadline is enforced from here.
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(b.browserCtx) }()

	timer := time.NewTimer(cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-startDone:
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-timer.C:
		b.Close()
		return nil, domain.NewSubSystemError("browser", "search.launch", domain.ErrTimeout,
			fmt.Sprintf("start browser: timed out after %v", cfg.LaunchTimeout))
	case <-ctx.Done():
		b.Close()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}

	logger.Info("chromedp browser started")
	return b, nil
}

// Search implements Browser. Each call runs in its own browser context,
// which is disposed when the call returns.
func (b *chromeBrowser) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	pageURL, err := BuildQueryURL(b.engineURL, query)
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	defer cancel()
	// Abandoning the caller also force-closes the tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	setup := []chromedp.Action{fetch.Enable()}
	if b.userAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(b.userAgent))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		return nil, fmt.Errorf("open browsing context: %w", err)
	}
	b.interceptRequests(tabCtx)

	navCtx, navCancel := context.WithTimeout(tabCtx, b.navTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		navigateUntilDOMContent(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, b.classify(ctx, navCtx, "navigate", err)
	}

	waitCtx, waitCancel := context.WithTimeout(tabCtx, b.resultWait)
	defer waitCancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(b.selectors.Result, chromedp.ByQuery)); err != nil {
		return nil, b.classify(ctx, waitCtx, "wait for results", err)
	}

	readCtx, readCancel := context.WithTimeout(tabCtx, b.navTimeout)
	defer readCancel()
	var html string
	if err := chromedp.Run(readCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, b.classify(ctx, readCtx, "read page", err)
	}

	return ExtractResults(html, pageURL, b.selectors, limit)
}

// navigateUntilDOMContent issues Page.navigate and returns once the new
// document fires DOMContentLoaded, without waiting for the load event.
func navigateUntilDOMContent(pageURL string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		loaded := make(chan struct{}, 1)
		chromedp.ListenTarget(lctx, func(ev any) {
			if _, ok := ev.(*page.EventDomContentEventFired); ok {
				select {
				case loaded <- struct{}{}:
				default:
				}
			}
		})

		_, _, errorText, _, err := page.Navigate(pageURL).Do(ctx)
		switch {
		case err != nil:
			return err
		case errorText != "":
			return fmt.Errorf("page load error %s", errorText)
		}

		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// interceptRequests fails requests for heavy static resources and lets
// everything else through. fetch.Enable must already be active on tabCtx.
func (b *chromeBrowser) interceptRequests(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tabCtx)
			if c == nil || c.Target == nil {
				return
			}
			ectx := cdp.WithExecutor(tabCtx, c.Target)
			var err error
			if blockedResources[paused.ResourceType] {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			} else {
				err = fetch.ContinueRequest(paused.RequestID).Do(ectx)
			}
			if err != nil && tabCtx.Err() == nil {
				b.logger.Debug("request interception failed", "request_id", paused.RequestID, "error", err)
			}
		}()
	})
}

// classify tags deadline expiry of stepCtx as a timeout. Cancellation of the
// caller's ctx is passed through unchanged.
func (b *chromeBrowser) classify(ctx, stepCtx context.Context, step string, err error) error {
	if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return domain.NewSubSystemError("search", "search."+step, domain.ErrTimeout, err.Error())
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Close shuts the browser down. It is safe to call more than once.
func (b *chromeBrowser) Close() error {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.logger.Info("chromedp browser closed")
	return nil
}
