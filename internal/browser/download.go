package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"golang.org/x/net/publicsuffix"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// CookieSource supplies the cookies of the authenticated browser session.
type CookieSource interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// HTTPDownloader streams artifacts over plain HTTP, carrying the session
// cookies of the browser so protected links resolve.
type HTTPDownloader struct {
	client    *http.Client
	jar       *cookiejar.Jar
	cookies   CookieSource
	userAgent string
}

func NewHTTPDownloader(timeout time.Duration, userAgent string, cookies CookieSource) (*HTTPDownloader, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPDownloader{
		client:    &http.Client{Timeout: timeout, Jar: jar},
		jar:       jar,
		cookies:   cookies,
		userAgent: userAgent,
	}, nil
}

// Download returns the response body of a successful GET. The caller closes it.
func (d *HTTPDownloader) Download(ctx context.Context, _ *types.Session, ref types.ArtifactReference) (io.ReadCloser, error) {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact URL %q: %w", ref.URL, err)
	}

	if d.cookies != nil {
		cookies, err := d.cookies.Cookies(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read session cookies: %w", types.ErrTransport, err)
		}
		d.jar.SetCookies(u, cookies)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", ref.URL, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed GET to %s: %w", types.ErrTransport, ref.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("received status code %d from %s", resp.StatusCode, ref.URL)
	}
	return resp.Body, nil
}
