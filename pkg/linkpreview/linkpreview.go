// Package linkpreview fetches OpenGraph metadata for link cards.
package linkpreview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	_ "golang.org/x/image/webp"
)

// Config controls fetching.
type Config struct {
	FetchTimeout  time.Duration
	MaxPageBytes  int64
	MaxImageBytes int64
	CacheTTL      time.Duration
	// AllowPrivateHosts permits loopback and private network targets.
	AllowPrivateHosts bool
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:  10 * time.Second,
		MaxPageBytes:  10 * 1024 * 1024,
		MaxImageBytes: 1000 * 1000, // blob limit for post thumbnails
		CacheTTL:      time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = def.MaxPageBytes
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = def.MaxImageBytes
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	return c
}

// Preview is the metadata of one page plus its thumbnail, if any.
type Preview struct {
	URL         string
	Title       string
	Description string
	SiteName    string

	Image       []byte
	ImageMIME   string
	ImageWidth  int
	ImageHeight int
}

func (p *Preview) clone() *Preview {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Image = append([]byte(nil), p.Image...)
	return &cp
}

type cacheEntry struct {
	preview   *Preview
	expiresAt time.Time
}

// Previewer fetches and caches previews.
type Previewer struct {
	config     Config
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Previewer.
func New(config Config) *Previewer {
	config = config.withDefaults()
	p := &Previewer{
		config: config,
		cache:  make(map[string]cacheEntry),
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.AllowPrivateHosts {
		// Names can resolve to internal addresses, so the dialed IP is checked too.
		dialer := &net.Dialer{Timeout: config.FetchTimeout, Control: refusePrivateDial}
		transport.DialContext = dialer.DialContext
		transport.Proxy = nil
	}
	p.httpClient = &http.Client{
		Timeout:   config.FetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			if !p.AllowedURL(req.URL.String()) {
				return fmt.Errorf("refusing redirect to %s", req.URL.Redacted())
			}
			return nil
		},
	}
	return p
}

// cgnat is the shared address space of RFC 6598.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// internalAddr reports whether addr points into loopback, private, link-local
// or otherwise non-public address space.
func internalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

// refusePrivateDial is a net.Dialer Control hook; address is the resolved IP.
func refusePrivateDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("unexpected dial address %q: %w", address, err)
	}
	if internalAddr(addr) {
		return fmt.Errorf("refusing to connect to internal address %s", addr)
	}
	return nil
}

func (p *Previewer) cached(urlStr string) *Preview {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.cache[urlStr]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.preview.clone()
}

func (p *Previewer) store(urlStr string, preview *Preview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.cache[urlStr] = cacheEntry{preview: preview.clone(), expiresAt: now.Add(p.config.CacheTTL)}
	if len(p.cache) > 1000 {
		for k, v := range p.cache {
			if now.After(v.expiresAt) {
				delete(p.cache, k)
			}
		}
	}
}

// AllowedURL reports whether rawURL is an http(s) URL the previewer may fetch.
func (p *Previewer) AllowedURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if p.config.AllowPrivateHosts {
		return true
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil && internalAddr(addr) {
		return false
	}
	return true
}

// Fetch returns the preview of urlStr.
func (p *Previewer) Fetch(ctx context.Context, urlStr string) (*Preview, error) {
	if cached := p.cached(urlStr); cached != nil {
		return cached, nil
	}
	if !p.AllowedURL(urlStr) {
		return nil, fmt.Errorf("refusing to preview %s", urlStr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; koanbot/1.0; +https://bsky.app)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("failed to parse OpenGraph: %w", err)
	}
	if og.Title == "" || og.Description == "" {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			if og.Title == "" {
				og.Title = extractTitle(doc)
			}
			if og.Description == "" {
				og.Description = extractDescription(doc)
			}
		}
	}

	preview := &Preview{
		URL:         urlStr,
		Title:       summarizeText(og.Title, 30, 150),
		Description: summarizeText(og.Description, 50, 200),
		SiteName:    og.SiteName,
	}
	if preview.Title == "" {
		preview.Title = urlStr
	}

	if len(og.Images) > 0 && og.Images[0].URL != "" {
		imageURL := og.Images[0].URL
		if base, err := url.Parse(urlStr); err == nil {
			if rel, err := url.Parse(imageURL); err == nil {
				imageURL = base.ResolveReference(rel).String()
			}
		}
		if data, mimeType, width, height, ok := p.downloadImage(ctx, imageURL); ok {
			preview.Image = data
			preview.ImageMIME = mimeType
			preview.ImageWidth = width
			preview.ImageHeight = height
		}
	}

	p.store(urlStr, preview)
	return preview, nil
}

// downloadImage fetches a thumbnail. Images that are oversized or cannot be
// decoded are skipped.
func (p *Previewer) downloadImage(ctx context.Context, imageURL string) (data []byte, mimeType string, width, height int, ok bool) {
	if !p.AllowedURL(imageURL) {
		return nil, "", 0, 0, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", 0, 0, false
	}
	req.Header.Set("Accept", "image/*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", 0, 0, false
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil, "", 0, 0, false
	}

	// Read one byte past the limit so truncation is detectable.
	data, err = io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageBytes+1))
	if err != nil || len(data) == 0 || int64(len(data)) > p.config.MaxImageBytes {
		return nil, "", 0, 0, false
	}
	mimeType = http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", 0, 0, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, 0, false
	}
	return data, mimeType, cfg.Width, cfg.Height, true
}

func extractTitle(doc *goquery.Document) string {
	if title := doc.Find("title").First().Text(); title != "" {
		return strings.TrimSpace(title)
	}
	if h1 := doc.Find("h1").First().Text(); h1 != "" {
		return strings.TrimSpace(h1)
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	if desc, exists := doc.Find("meta[name='description']").First().Attr("content"); exists && desc != "" {
		return strings.TrimSpace(desc)
	}
	if p := doc.Find("p").First().Text(); p != "" {
		return strings.TrimSpace(p)
	}
	return ""
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// summarizeText caps text at maxWords words and maxRunes characters.
func summarizeText(text string, maxWords, maxRunes int) string {
	text = whitespaceRegex.ReplaceAllString(strings.TrimSpace(text), " ")
	if text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > maxWords {
		text = strings.Join(words[:maxWords], " ")
	}
	runes := []rune(text)
	if len(runes) > maxRunes {
		text = string(runes[:maxRunes])
		if lastSpace := strings.LastIndex(text, " "); lastSpace > len(text)/2 {
			text = text[:lastSpace]
		}
		text += "..."
	}
	return text
}
