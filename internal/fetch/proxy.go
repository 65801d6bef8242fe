package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// isViewImageProxy reports whether u is the board's image proxy form
// view_image.php?fn=<encoded-path>.
func isViewImageProxy(u *url.URL) bool {
	return strings.HasSuffix(u.Path, "/view_image.php") && u.Query().Get("fn") != ""
}

// isDownloadProxy reports whether u is the board's attachment download
// form download.php?bo_table=<board>&wr_id=<post>.
func isDownloadProxy(u *url.URL) bool {
	q := u.Query()
	return strings.HasSuffix(u.Path, "/download.php") &&
		q.Get("bo_table") != "" && q.Get("wr_id") != ""
}

// rewriteViewImage turns view_image.php?fn=<encoded-path> into a direct
// URL on the same origin. Query parsing already URL-decoded fn once; a
// second decode handles double-encoded paths the board emits.
func rewriteViewImage(u *url.URL) (rewritten, filenameHint string, err error) {
	fn := u.Query().Get("fn")
	if decoded, decErr := url.QueryUnescape(fn); decErr == nil {
		fn = decoded
	}
	fn = strings.TrimPrefix(fn, "/")
	if fn == "" {
		return "", "", qaerrors.New(qaerrors.ErrCodeInvalidInput, "view_image.php without fn path", nil).
			WithDetail("url", u.String())
	}

	direct := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + fn}
	return direct.String(), path.Base(fn), nil
}

// warmDownloadCookies walks the board root and the enclosing post so the
// server issues the session cookies download.php checks. Each fetch gets
// its own jar; nothing leaks between posts.
func (c *Client) warmDownloadCookies(ctx context.Context, u *url.URL) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "cookie jar", err)
	}

	q := u.Query()
	boTable := q.Get("bo_table")
	wrID := q.Get("wr_id")

	base := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: path.Dir(u.Path) + "/board.php"}

	boardURL := *base
	boardURL.RawQuery = url.Values{"bo_table": {boTable}}.Encode()

	postURL := *base
	postURL.RawQuery = url.Values{"bo_table": {boTable}, "wr_id": {wrID}}.Encode()

	client := &http.Client{Transport: c.transport, Jar: jar}
	for _, warmURL := range []string{boardURL.String(), postURL.String()} {
		if err := c.warmVisit(ctx, client, warmURL); err != nil {
			return nil, err
		}
	}

	return jar, nil
}

// warmVisit loads one page for its cookies and discards the body.
func (c *Client) warmVisit(ctx context.Context, client *http.Client, warmURL string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, warmURL, nil)
	if err != nil {
		return qaerrors.New(qaerrors.ErrCodeInvalidInput, "build warm request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(warmURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(warmURL, resp.StatusCode)
	}
	return nil
}
