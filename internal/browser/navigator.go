/*
Package browser drives a headless Chromium through go-rod: it logs in, reads
listing pages, follows the next-page control and downloads artifacts with the
browser's session cookies.
*/
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Selectors locate the elements the navigator interacts with.
type Selectors struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Submit   string `yaml:"submit"`
	LoggedIn string `yaml:"logged_in"`
	Item     string `yaml:"item"`
	Next     string `yaml:"next"`
}

type Config struct {
	Headless          bool          `yaml:"headless"`
	Bin               string        `yaml:"bin"`
	ListingURL        string        `yaml:"-"`
	UserAgent         string        `yaml:"user_agent"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SettleTime        time.Duration `yaml:"settle_time"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	Selectors         Selectors     `yaml:"selectors"`
}

func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		SettleTime:        500 * time.Millisecond,
		DownloadTimeout:   2 * time.Minute,
		Selectors: Selectors{
			Username: `input[name="username"]`,
			Password: `input[type="password"]`,
			Submit:   `button[type="submit"]`,
			LoggedIn: `a[href*="logout"]`,
			Item:     `li.listing`,
			Next:     `a[rel="next"]`,
		},
	}
}

// Navigator owns one incognito page. It is not safe for concurrent page
// operations; Cookies may be called concurrently.
type Navigator struct {
	cfg        Config
	browser    *rod.Browser
	page       *rod.Page
	downloader *HTTPDownloader
	mu         sync.Mutex
	logger     *zap.Logger
}

// Launch starts (or downloads) a browser and opens a blank incognito page.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Navigator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	n := &Navigator{cfg: cfg, browser: browser, page: page, logger: logger}
	n.downloader, err = NewHTTPDownloader(cfg.DownloadTimeout, cfg.UserAgent, n)
	if err != nil {
		browser.Close()
		return nil, err
	}

	logger.Info("Browser started", zap.Bool("headless", cfg.Headless), zap.String("control_url", controlURL))
	return n, nil
}

func (n *Navigator) Close() error {
	return n.browser.Close()
}

func (n *Navigator) pageCtx(ctx context.Context) (*rod.Page, context.CancelFunc) {
	if n.cfg.NavigationTimeout <= 0 {
		return n.page.Context(ctx), func() {}
	}
	tctx, cancel := context.WithTimeout(ctx, n.cfg.NavigationTimeout)
	return n.page.Context(tctx), cancel
}

// Login fills the login form and waits for the logged-in marker. The returned
// handle identifies the browser target holding the session.
func (n *Navigator) Login(ctx context.Context, url string, creds types.Credentials) (string, error) {
	p, cancel := n.pageCtx(ctx)
	defer cancel()

	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("%w: failed to open login page %s: %w", types.ErrTransport, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("%w: login page did not load: %w", types.ErrTransport, err)
	}

	sel := n.cfg.Selectors
	if err := fill(p, sel.Username, creds.Username); err != nil {
		return "", err
	}
	if err := fill(p, sel.Password, creds.Password); err != nil {
		return "", err
	}

	submit, err := p.Element(sel.Submit)
	if err != nil {
		return "", fmt.Errorf("%w: submit control %q not found: %w", types.ErrTransport, sel.Submit, err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("%w: failed to submit login form: %w", types.ErrTransport, err)
	}
	if err := p.WaitStable(n.cfg.SettleTime); err != nil {
		return "", fmt.Errorf("%w: page did not settle after login: %w", types.ErrTransport, err)
	}

	loggedIn, _, err := p.Has(sel.LoggedIn)
	if err != nil {
		return "", fmt.Errorf("%w: failed to probe login marker: %w", types.ErrTransport, err)
	}
	if loggedIn {
		return string(n.page.TargetID), nil
	}

	formShown, _, err := p.Has(sel.Password)
	if err != nil {
		return "", fmt.Errorf("%w: failed to probe login form: %w", types.ErrTransport, err)
	}
	return "", loginRejected(sel, formShown, creds)
}

// loginRejected explains a missing logged-in marker. Credentials are only
// blamed while the login form is still shown; otherwise the site went
// somewhere unexpected.
func loginRejected(sel Selectors, formShown bool, creds types.Credentials) error {
	if formShown {
		return fmt.Errorf("%w: logged-in marker %q not present after submitting credentials for %s",
			types.ErrAuthenticationFailed, sel.LoggedIn, creds)
	}
	return fmt.Errorf("%w: neither logged-in marker %q nor login form %q present after login",
		types.ErrTransport, sel.LoggedIn, sel.Password)
}

func fill(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("%w: input %q not found: %w", types.ErrTransport, selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("%w: failed to focus %q: %w", types.ErrTransport, selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("%w: failed to type into %q: %w", types.ErrTransport, selector, err)
	}
	return nil
}

// IsSessionLive reports whether the logged-in marker is on the current page.
func (n *Navigator) IsSessionLive(ctx context.Context, _ *types.Session) (bool, error) {
	p, cancel := n.pageCtx(ctx)
	defer cancel()

	has, _, err := p.Has(n.cfg.Selectors.LoggedIn)
	if err != nil {
		return false, fmt.Errorf("failed to probe session: %w", err)
	}
	return has, nil
}

// Open navigates to the page addressed by cursor, or the listing URL when the
// cursor is empty.
func (n *Navigator) Open(ctx context.Context, _ *types.Session, cursor string) error {
	target := cursor
	if target == "" {
		target = n.cfg.ListingURL
	}

	p, cancel := n.pageCtx(ctx)
	defer cancel()

	if err := p.Navigate(target); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("page %s did not load: %w", target, err)
	}
	return nil
}

// FetchCurrentPage reads every listing item, one item per line of Content.
func (n *Navigator) FetchCurrentPage(ctx context.Context, _ *types.Session) (types.Page, error) {
	p, cancel := n.pageCtx(ctx)
	defer cancel()

	info, err := p.Info()
	if err != nil {
		return types.Page{}, fmt.Errorf("failed to read page info: %w", err)
	}

	items, err := p.Elements(n.cfg.Selectors.Item)
	if err != nil {
		return types.Page{}, fmt.Errorf("failed to read listing items: %w", err)
	}

	lines := make([]string, 0, len(items))
	for _, el := range items {
		h, err := el.HTML()
		if err != nil {
			return types.Page{}, fmt.Errorf("failed to read listing item: %w", err)
		}
		lines = append(lines, flatten(h))
	}

	hasNext, _, err := p.Has(n.cfg.Selectors.Next)
	if err != nil {
		return types.Page{}, fmt.Errorf("failed to probe next control: %w", err)
	}

	n.logger.Debug("Read listing page", zap.String("url", info.URL), zap.Int("items", len(items)), zap.Bool("has_next", hasNext))

	return types.Page{
		URL:       info.URL,
		Content:   strings.Join(lines, "\n"),
		HasNext:   hasNext,
		FetchedAt: time.Now(),
	}, nil
}

// flatten keeps an item on one line.
func flatten(h string) string {
	return strings.Join(strings.Fields(h), " ")
}

func (n *Navigator) HasNextPage(p types.Page) bool {
	return p.HasNext
}

// Advance clicks the next control and waits for the DOM to settle.
func (n *Navigator) Advance(ctx context.Context, _ *types.Session) error {
	p, cancel := n.pageCtx(ctx)
	defer cancel()

	has, next, err := p.Has(n.cfg.Selectors.Next)
	if err != nil {
		return fmt.Errorf("failed to probe next control: %w", err)
	}
	if !has {
		return fmt.Errorf("next control %q not present", n.cfg.Selectors.Next)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click next control: %w", err)
	}
	if err := p.WaitStable(n.cfg.SettleTime); err != nil {
		return fmt.Errorf("page did not settle after advancing: %w", err)
	}
	return nil
}

func (n *Navigator) Download(ctx context.Context, s *types.Session, ref types.ArtifactReference) (io.ReadCloser, error) {
	return n.downloader.Download(ctx, s, ref)
}

// Cookies returns the browser's current cookies for the HTTP downloader.
func (n *Navigator) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cookies, err := n.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}
	return toHTTPCookies(cookies), nil
}

func toHTTPCookies(in []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}
