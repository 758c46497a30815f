package rewriter

// Handler is the rewrite applied to a routed attribute.
type Handler int

const (
	NoRule Handler = iota
	HandleURL
	HandleHTML
	HandleSrcset
	HandleCSS
	HandleDelete
)

func (h Handler) String() string {
	switch h {
	case HandleURL:
		return "url"
	case HandleHTML:
		return "html"
	case HandleSrcset:
		return "srcset"
	case HandleCSS:
		return "css"
	case HandleDelete:
		return "delete"
	}
	return "none"
}

// Rule maps a set of tags and attribute names to a handler.
// A nil Tags set matches every element.
type Rule struct {
	Tags    map[string]bool
	Attrs   map[string]bool
	Handler Handler
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Rules is tried in order; the first match wins.
var Rules = []Rule{
	{
		Tags: set("form", "object", "a", "link", "area", "base", "script", "img", "audio", "video",
			"input", "embed", "iframe", "track", "source", "html", "table", "head"),
		Attrs:   set("src", "href", "ping", "data", "movie", "action", "poster", "profile", "background", "target"),
		Handler: HandleURL,
	},
	{
		Tags:    set("iframe"),
		Attrs:   set("srcdoc"),
		Handler: HandleHTML,
	},
	{
		Tags:    set("img", "link", "source"),
		Attrs:   set("srcset", "imagesrcset"),
		Handler: HandleSrcset,
	},
	{
		Attrs:   set("style"),
		Handler: HandleCSS,
	},
	{
		Attrs:   set("http-equiv", "integrity", "nonce", "crossorigin"),
		Handler: HandleDelete,
	},
}

// Route returns the handler for attr on a tag, or NoRule.
func Route(tag, attr string) Handler {
	for _, r := range Rules {
		if r.Tags != nil && !r.Tags[tag] {
			continue
		}
		if r.Attrs[attr] {
			return r.Handler
		}
	}
	return NoRule
}
