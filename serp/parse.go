package serp

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Entry is one row extracted from a results page. Positions are page-relative
// and classification-relative: the 3rd organic result has Position 3 no
// matter how many ads came before it. That is the rank the platform shows
// users, and it is the number we persist.
type Entry struct {
	Name       string
	Normalized string
	Position   int
	Ad         bool
	ListingID  string
}

// ParseList extracts ordered entries from serialized result-list HTML.
// Markup drift degrades to fewer (or zero) entries, never to an error: the
// selectors going stale is an expected lifecycle event, not a crash.
func ParseList(html string, sel SelectorSet) []Entry {
	return ParseListOffset(html, sel, 0, 0)
}

// ParseListOffset parses one page of a multi-page harvest. adOffset and
// organicOffset are the counters reached on the previous page, so positions
// keep increasing across page boundaries.
func ParseListOffset(html string, sel SelectorSet, adOffset, organicOffset int) []Entry {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	root := doc.Selection
	if sel.List != "" {
		if list := doc.Find(sel.List); list.Length() > 0 {
			root = list.First()
		}
	}

	var entries []Entry
	adCount, organicCount := adOffset, organicOffset

	root.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		name := firstText(item, sel.Name)
		if name == "" {
			// Markup artifact (separator, banner), not a result.
			return
		}

		e := Entry{
			Name:       name,
			Normalized: Normalize(name),
			Ad:         isAd(item, sel),
			ListingID:  listingID(item, sel.Link),
		}

		// Independent counters: ads and organics each keep their own
		// monotonically increasing sequence.
		if e.Ad {
			adCount++
			e.Position = adCount
		} else {
			organicCount++
			e.Position = organicCount
		}
		entries = append(entries, e)
	})

	return entries
}

// firstText returns the first non-empty trimmed text across the ordered
// fallback selectors.
func firstText(item *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		if text := strings.TrimSpace(item.Find(s).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// isAd applies the ordered ad predicates; any single match wins. The three
// heuristics are redundant on purpose — the platform marks sponsored rows
// with an explicit label, an ad CSS class, or an encoded attribute suffix
// depending on surface and version, and collapsing them to one rule has
// regressed classification accuracy before.
func isAd(item *goquery.Selection, sel SelectorSet) bool {
	if sel.AdLabel != "" {
		label := false
		item.Find("span, em").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.Text()) == sel.AdLabel {
				label = true
				return false
			}
			return true
		})
		if label {
			return true
		}
	}

	if sel.AdClass != "" {
		if item.HasClass(sel.AdClass) || item.Find("."+sel.AdClass).Length() > 0 {
			return true
		}
	}

	if sel.AdAttr != "" && sel.AdAttrSuffix != "" {
		if v, ok := item.Attr(sel.AdAttr); ok && strings.HasSuffix(v, sel.AdAttrSuffix) {
			return true
		}
		suffixMatch := false
		item.Find("[" + sel.AdAttr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v, ok := s.Attr(sel.AdAttr); ok && strings.HasSuffix(v, sel.AdAttrSuffix) {
				suffixMatch = true
				return false
			}
			return true
		})
		if suffixMatch {
			return true
		}
	}

	return false
}

// listingID parses the platform listing identifier out of the entry's
// outbound link. Best effort: entries without a parseable link get an empty
// ID and matching falls back to name equality.
func listingID(item *goquery.Selection, linkSel string) string {
	if linkSel == "" {
		return ""
	}
	href, ok := item.Find(linkSel).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	// Path forms: /place/12345, /restaurant/12345/home, blog post permalinks.
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if isDigits(s) && i > 0 {
			return s
		}
	}

	// Query form: ?id=12345
	if id := u.Query().Get("id"); isDigits(id) {
		return id
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
