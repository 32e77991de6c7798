package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/shanehull/listscraper/internal/checksum"
	"github.com/shanehull/listscraper/internal/types"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	DefaultLinkSelector = "a[href]"
	DefaultChecksumAttr = "data-sha256"
)

// Resolver turns relevant spans into artifact references by reading links out
// of the span markup.
type Resolver struct {
	linkSelector string
	checksumAttr string
	logger       *zap.Logger
}

func NewResolver(linkSelector, checksumAttr string, logger *zap.Logger) *Resolver {
	if linkSelector == "" {
		linkSelector = DefaultLinkSelector
	}
	if checksumAttr == "" {
		checksumAttr = DefaultChecksumAttr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{linkSelector: linkSelector, checksumAttr: checksumAttr, logger: logger}
}

// Resolve reads only the verdict's relevant spans. Links resolve against the
// page URL and are de-duplicated by absolute URL.
func (r *Resolver) Resolve(verdict types.RelevanceVerdict) ([]types.ArtifactReference, error) {
	var base *url.URL
	if verdict.PageURL != "" {
		u, err := url.Parse(verdict.PageURL)
		if err != nil {
			return nil, fmt.Errorf("invalid page URL %q: %w", verdict.PageURL, err)
		}
		base = u
	}

	seen := make(map[string]bool)
	var refs []types.ArtifactReference

	for _, span := range verdict.Relevant {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(span.Text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse span [%d,%d): %w", span.Start, span.End, err)
		}

		doc.Find(r.linkSelector).Each(func(_ int, s *goquery.Selection) {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
				return
			}

			abs, err := resolveURL(base, href)
			if err != nil {
				r.logger.Warn("Skipping unparseable link", zap.String("href", href), zap.Error(err))
				return
			}
			if seen[abs] {
				return
			}
			seen[abs] = true

			expected := strings.TrimSpace(s.AttrOr(r.checksumAttr, ""))
			// kept as-is: a malformed digest can never match and the
			// download ends up corrupt
			if expected != "" && !checksum.ValidHex(expected) {
				r.logger.Warn("Malformed expected checksum",
					zap.String("url", abs),
					zap.String("checksum", expected))
			}
			if n := checksum.Normalize(expected); n != "" {
				expected = n
			}

			refs = append(refs, types.ArtifactReference{
				URL:              abs,
				Name:             artifactName(abs, strings.TrimSpace(s.Text())),
				ExpectedChecksum: expected,
				PageIndex:        verdict.PageIndex,
			})
		})
	}

	return refs, nil
}

func resolveURL(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", ref.Scheme)
	}
	return ref.String(), nil
}

func artifactName(rawURL, text string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	if text != "" {
		return text
	}
	return "artifact"
}
