package serp

// SelectorSet pins the platform markup the parser looks for. The class names
// are versioned by the platform and rotate without notice; deployments
// override them from the YAML config instead of waiting for a new binary.
type SelectorSet struct {
	// Frame is the iframe the platform renders results into. Empty for
	// surfaces that render results in the top document.
	Frame string `yaml:"frame"`

	// List is the container holding all result items.
	List string `yaml:"list"`

	// Item matches one result row inside List.
	Item string `yaml:"item"`

	// Name holds ordered fallback selectors for the display name. Markup
	// differs between result types, so the first non-empty text wins.
	Name []string `yaml:"name"`

	// AdLabel, AdClass and AdAttrSuffix are independent ad-classification
	// predicates; any single match marks the entry as an ad. The redundancy
	// is deliberate — the platform is not consistent about how it marks
	// sponsored placements.
	AdLabel      string `yaml:"ad_label"`
	AdClass      string `yaml:"ad_class"`
	AdAttr       string `yaml:"ad_attr"`
	AdAttrSuffix string `yaml:"ad_attr_suffix"`

	// Link is the outbound anchor carrying the listing identifier.
	Link string `yaml:"link"`

	// NextPage is the pagination control, when the surface has one.
	NextPage string `yaml:"next_page"`
}

// PlaceDefaults returns the selector set for the map/place surface, pinned to
// the markup version current when these defaults were written. Expect them to
// need periodic updates.
func PlaceDefaults() SelectorSet {
	return SelectorSet{
		Frame:        "#searchIframe",
		List:         "ul.eDFz7",
		Item:         "li.UEzoS",
		Name:         []string{"span.TYaxT", "span.YwYLL", "span.place_bluelink"},
		AdLabel:      "광고",
		AdClass:      "gU6i1",
		AdAttr:       "data-laim-exp-id",
		AdAttrSuffix: "*e",
		Link:         "a.place_bluelink, a.tzwk0",
		NextPage:     "a.eUTV2",
	}
}

// BlogDefaults returns the selector set for the blog search surface.
func BlogDefaults() SelectorSet {
	return SelectorSet{
		List:         "ul.lst_view",
		Item:         "li.bx",
		Name:         []string{"a.title_link", "a.api_txt_lines.total_tit"},
		AdLabel:      "광고",
		AdClass:      "spblog_ad",
		AdAttr:       "data-cr-area",
		AdAttrSuffix: "*a",
		Link:         "a.title_link",
		NextPage:     "a.btn_next",
	}
}
