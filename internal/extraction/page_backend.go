package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.7339.129 Safari/537.36"
	maxPageBytes     = 5 << 20
	minTitleLength   = 15
)

// priceSelectors are tried in order; the first non-empty match wins
var priceSelectors = []string{
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	"#priceblock_saleprice",
	"span.a-price > span.a-offscreen",
	"span.a-price-whole",
	"[itemprop=price]",
	"meta[property='product:price:amount']",
	"meta[property='og:price:amount']",
}

var (
	titleSelectors = []string{
		"#productTitle",
		"meta[property='og:title']",
	}
	bodyPricePattern = regexp.MustCompile(`(?:₹|Rs\.?)\s?[\d,]+(?:\.\d{1,2})?`)
	digitPattern     = regexp.MustCompile(`\d`)
)

// PageBackend downloads the product page itself and parses it with CSS
// selectors, falling back to a currency regex over the page text.
type PageBackend struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewPageBackend builds a scraper. Redirect targets go through the same
// locator checks as the original URL.
func NewPageBackend(logger *zap.Logger, timeout time.Duration, allowPrivateHosts bool) *PageBackend {
	return &PageBackend{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return Permanent(fmt.Errorf("too many redirects"))
				}
				if _, err := ValidateLocator(req.URL.String(), allowPrivateHosts); err != nil {
					return Permanent(fmt.Errorf("redirect rejected: %w", err))
				}
				return nil
			},
		},
		userAgent: defaultUserAgent,
		logger:    logger.Named("page"),
	}
}

func (b *PageBackend) Extract(ctx context.Context, target Target) (RawProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return RawProduct{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := b.client.Do(req)
	if err != nil {
		return RawProduct{}, fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RawProduct{}, statusError(resp)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return RawProduct{}, fmt.Errorf("parse page: %w", err)
	}
	return parseProductPage(doc), nil
}

func parseProductPage(doc *goquery.Document) RawProduct {
	doc.Find("script, style, noscript").Remove()

	var out RawProduct
	for _, sel := range priceSelectors {
		if text := selectionText(doc.Find(sel).First()); digitPattern.MatchString(text) {
			out.Price = text
			break
		}
	}

	bodyText := doc.Find("body").Text()
	if out.Price == "" {
		out.Price = bodyPricePattern.FindString(bodyText)
	}

	for _, sel := range titleSelectors {
		if text := selectionText(doc.Find(sel).First()); text != "" {
			out.Title = text
			return out
		}
	}
	for _, line := range strings.Split(bodyText, "\n") {
		if line = strings.TrimSpace(line); len([]rune(line)) > minTitleLength {
			out.Title = line
			return out
		}
	}
	out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	return out
}

// selectionText prefers the content attribute so meta tags work too
func selectionText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(s.Text())
}
