// Package discover walks the portal's nested archive pages and emits a
// descriptor for every downloadable file reference found. The walk is an
// explicit worklist, never recursion, so a malformed page hierarchy cannot
// blow the stack; a maximum depth bounds it against cycles.
package discover

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/classify"
	"github.com/openparl/parlingest/internal/ingest"
)

// DefaultMaxDepth bounds the archive walk when config leaves it unset. The
// deepest real hierarchy (series, sub-series, legislature, session, number)
// needs five levels.
const DefaultMaxDepth = 6

// Config names the entry points and traversal limits.
type Config struct {
	// Roots are flat archive pages: every level lists either files or more
	// archive pages, with no fixed meaning per level.
	Roots []string
	// SeriesRoots are walked with the deep traversal, where each level is a
	// known hierarchy rank (sub-series, legislature, session, number).
	SeriesRoots []string
	// MaxDepth caps how many levels below a root are visited.
	MaxDepth int
}

// EmitFunc receives each discovered descriptor. Returning an error stops the
// walk and surfaces the error from Discover.
type EmitFunc func(ingest.FileDescriptor) error

// Discoverer turns archive pages into file descriptors.
type Discoverer struct {
	fetcher ingest.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Discoverer. A nil logger silences it.
func New(fetcher ingest.Fetcher, cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// node is one worklist entry: a page to visit plus the hierarchy context
// accumulated on the way down.
type node struct {
	url   string
	path  ingest.ArchivePath
	depth int
	deep  bool
}

// Discover walks every configured root and calls emit once per downloadable
// file. The same canonical URL is emitted at most once per walk even when
// several pages reference it. A page that fails to fetch or parse skips its
// subtree; the walk itself only stops on context cancellation or an emit
// error.
func (d *Discoverer) Discover(ctx context.Context, emit EmitFunc) error {
	work := make([]node, 0, len(d.cfg.Roots)+len(d.cfg.SeriesRoots))
	for _, root := range d.cfg.Roots {
		work = append(work, node{url: root})
	}
	for _, root := range d.cfg.SeriesRoots {
		work = append(work, node{url: root, deep: true})
	}

	seen := make(map[string]struct{})
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := work[0]
		work = work[1:]

		body, err := d.fetcher.Get(ctx, item.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("archive page fetch failed",
				zap.String("url", item.url),
				zap.Error(err),
			)
			continue
		}

		blocks, err := parseArchivePage(body)
		if err != nil {
			d.logger.Warn("archive page parse failed",
				zap.String("url", item.url),
				zap.Error(err),
			)
			continue
		}

		for _, b := range blocks {
			target, err := resolveRef(item.url, b.Href)
			if err != nil {
				d.logger.Debug("skipping unresolvable reference",
					zap.String("page", item.url),
					zap.String("href", b.Href),
					zap.Error(err),
				)
				continue
			}
			if isFileRef(target, b.Label) {
				if _, dup := seen[target]; dup {
					continue
				}
				seen[target] = struct{}{}
				if err := emit(d.describe(target, b.Label, item)); err != nil {
					return err
				}
				continue
			}
			if item.depth+1 > d.cfg.MaxDepth {
				d.logger.Warn("max depth reached, not descending",
					zap.String("page", item.url),
					zap.String("label", b.Label),
					zap.Int("depth", item.depth+1),
				)
				continue
			}
			work = append(work, node{
				url:   target,
				path:  item.childPath(b.Label),
				depth: item.depth + 1,
				deep:  item.deep,
			})
		}
	}
	return nil
}

// childPath extends the hierarchy context with label. Deep traversals assign
// the label to its rank: the level below the root names the sub-series, two
// below names the session, three below the number. The legislature level in
// between stays in the trail only; the designator is read back out when a
// file is described.
func (n node) childPath(label string) ingest.ArchivePath {
	p := n.path.Push(label)
	if !n.deep {
		return p
	}
	switch n.depth {
	case 0:
		p.SubSeries = label
	case 2:
		p.Session = label
	case 3:
		p.Number = label
	}
	return p
}

// describe builds the descriptor for a file reference found on item's page.
func (d *Discoverer) describe(canonical, label string, item node) ingest.FileDescriptor {
	logicalType, ok := classify.ResolveType(label)
	if !ok {
		logicalType, _ = classify.ResolveType(canonical)
	}

	category := ingest.CategoryFor(logicalType)
	if category == "" && len(item.path.Trail) > 0 {
		category = item.path.Trail[0]
	}

	return ingest.FileDescriptor{
		URL:         canonical,
		DisplayName: label,
		Type:        logicalType,
		Category:    category,
		Legislature: legislatureFor(canonical, label, item),
		Path:        item.path,
	}
}

// legislatureFor resolves the term ordinal. Flat walks trust the file's own
// name first, then its URL, then the hierarchy labels. Deep walks invert
// that: their hierarchy has an explicit legislature level, and a journal
// file's trailing issue number would otherwise be misread as a term.
func legislatureFor(canonical, label string, item node) int {
	if item.deep {
		if n, ok := trailLegislature(item.path); ok {
			return n
		}
	}
	if n := classify.ResolveLegislature(label); n != classify.LegislatureUnknown {
		return n
	}
	if n := classify.ResolveLegislature(canonical); n != classify.LegislatureUnknown {
		return n
	}
	if n, ok := trailLegislature(item.path); ok {
		return n
	}
	return classify.LegislatureUnknown
}

// trailLegislature scans the hierarchy labels nearest level first for a
// legislature designator.
func trailLegislature(p ingest.ArchivePath) (int, bool) {
	for i := len(p.Trail) - 1; i >= 0; i-- {
		if n, ok := classify.RomanLegislature(p.Trail[i]); ok {
			return n, true
		}
		if n := classify.ResolveLegislature(p.Trail[i]); n != classify.LegislatureUnknown {
			return n, true
		}
	}
	return classify.LegislatureUnknown, false
}

// block is one repeated structural group on an archive page: a link plus its
// visible label.
type block struct {
	Href  string
	Label string
}

// parseArchivePage extracts the archive-item blocks from a page body.
func parseArchivePage(body []byte) ([]block, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var blocks []block
	doc.Find("div.archive-item").Each(func(_ int, sel *goquery.Selection) {
		anchor := sel.Find("a").First()
		href, ok := anchor.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		label := strings.TrimSpace(anchor.Text())
		if label == "" {
			label = strings.TrimSpace(sel.Text())
		}
		blocks = append(blocks, block{Href: href, Label: label})
	})
	return blocks, nil
}

// resolveRef absolutizes href against the page URL and canonicalizes the
// result so it can serve as a ledger key.
func resolveRef(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return ingest.CanonicalURL(base.ResolveReference(ref).String())
}

// isFileRef reports whether the reference is a terminal downloadable file
// rather than another archive page. The label usually carries the real file
// name; portal download URLs hide it behind a query parameter, so the URL
// path is only a fallback signal.
func isFileRef(canonical, label string) bool {
	if ingest.FormatFor(label) != ingest.FormatUnknown {
		return true
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	if ingest.FormatFor(u.Path) != ingest.FormatUnknown {
		return true
	}
	for _, v := range u.Query() {
		for _, name := range v {
			if ingest.FormatFor(name) != ingest.FormatUnknown {
				return true
			}
		}
	}
	return false
}
