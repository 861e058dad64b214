package mirrors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/romkeep/romkeep/internal/utils"
)

// RemoteFile is one downloadable entry in a provider directory listing.
type RemoteFile struct {
	Name string
	URL  string
	// SizeText is the human-readable size column when the listing has one.
	SizeText string
}

// ListingClient fetches and parses the provider's HTML directory listings.
// It presents a browser User-Agent because some mirrors throttle obvious
// tooling.
type ListingClient struct {
	client    *http.Client
	userAgent string
}

func NewListingClient(timeout time.Duration) *ListingClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ListingClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: utils.GetRandomUserAgent(),
	}
}

// ListFiles fetches dirURL and returns its file entries. Navigation links,
// subdirectories, and index sidecar files are filtered out.
func (lc *ListingClient) ListFiles(ctx context.Context, dirURL string) ([]RemoteFile, error) {
	log := utils.GetLogger("mirrors")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dirURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", lc.userAgent)
	resp, err := lc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching listing %s: %w", dirURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing %s returned %s", dirURL, resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing listing %s: %w", dirURL, err)
	}

	var files []RemoteFile
	for _, link := range collectAnchors(doc) {
		if !keepListingEntry(link.href, link.text) {
			continue
		}
		fileURL := link.href
		if !strings.HasPrefix(fileURL, "http://") && !strings.HasPrefix(fileURL, "https://") {
			fileURL = strings.TrimRight(dirURL, "/") + "/" + strings.TrimLeft(fileURL, "/")
		}
		name := link.text
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		files = append(files, RemoteFile{Name: name, URL: fileURL, SizeText: link.size})
	}
	log.Debug().Str("url", dirURL).Int("files", len(files)).Msg("Parsed directory listing")
	return files, nil
}

// SearchFiles lists dirURL and keeps entries whose name contains query,
// case-insensitively. An empty query returns everything.
func (lc *ListingClient) SearchFiles(ctx context.Context, dirURL, query string) ([]RemoteFile, error) {
	files, err := lc.ListFiles(ctx, dirURL)
	if err != nil || query == "" {
		return files, err
	}
	q := strings.ToLower(query)
	var matched []RemoteFile
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Name), q) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

type anchor struct {
	href string
	text string
	size string
}

// collectAnchors walks the parse tree for <a> elements, pairing each with
// the size column when the listing is a table row.
func collectAnchors(doc *html.Node) []anchor {
	var anchors []anchor
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			a := anchor{text: strings.TrimSpace(nodeText(n))}
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					a.href = attr.Val
				}
			}
			if a.href != "" && a.text != "" {
				a.size = siblingSizeCell(n)
				anchors = append(anchors, a)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return anchors
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// siblingSizeCell returns the text of the next <td> after the anchor's cell,
// which is the size column in the provider's table listings.
func siblingSizeCell(a *html.Node) string {
	cell := a.Parent
	for cell != nil && !(cell.Type == html.ElementNode && cell.Data == "td") {
		cell = cell.Parent
	}
	if cell == nil {
		return ""
	}
	for sib := cell.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && sib.Data == "td" {
			return strings.TrimSpace(nodeText(sib))
		}
	}
	return ""
}

func keepListingEntry(href, text string) bool {
	switch href {
	case "..", "../", "/":
		return false
	}
	switch text {
	case "..", "Parent Directory", "Name":
		return false
	}
	if strings.HasSuffix(href, "/") {
		return false
	}
	lower := strings.ToLower(text)
	for _, ext := range []string{".xml", ".sqlite", ".txt", ".html"} {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}
