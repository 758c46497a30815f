package rewriter

// OverrideKind says whether and how the page title is replaced.
type OverrideKind int

const (
	// NoOverride keeps the proxied page's own title.
	NoOverride OverrideKind = iota
	// Suppressed keeps the page title and tells the client not to override it either.
	Suppressed
	// Titled replaces the page title with Override.Text.
	Titled
)

// Override is the resolved title policy for a rewriter.
type Override struct {
	Kind OverrideKind
	Text string
}

// Title returns a Titled override, or NoOverride for an empty string.
func Title(text string) Override {
	if text == "" {
		return Override{}
	}
	return Override{Kind: Titled, Text: text}
}

// Suppress returns the override used for a configured title of false.
func Suppress() Override {
	return Override{Kind: Suppressed}
}

// ResolveTitle applies the title cascade: a non-empty external title wins,
// then the instance setting, then nothing.
func ResolveTitle(external string, instance Override) Override {
	if external != "" {
		return Title(external)
	}
	if instance.Kind == Titled && instance.Text == "" {
		return Override{}
	}
	return instance
}

// Replaces reports whether existing <title> text is overwritten and a
// missing <title> is injected.
func (o Override) Replaces() bool {
	return o.Kind == Titled && o.Text != ""
}

// Literal renders the override as the JS literal handed to the client.
func (o Override) Literal() string {
	switch o.Kind {
	case Titled:
		return quoteJS(o.Text)
	case Suppressed:
		return "false"
	}
	return "undefined"
}
