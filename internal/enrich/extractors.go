package enrich

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
)

// DefaultBucketPrefix is where the site keeps full-size portraits.
const DefaultBucketPrefix = "https://s3.amazonaws.com/static.militarytimes.com/thefallen/"

const (
	defaultCircumstancesMax = 280
	defaultUnitMinLength    = 8
	maxPlaceRunes           = 80
	minAge, maxAge          = 17, 99
)

// Extractor reads one field from a page and returns "" when nothing matches.
type Extractor func(p *Page) string

// Rule binds a field to its extractors in priority order.
type Rule struct {
	Field      string
	Extractors []Extractor
	assign     func(d *fallen.DetailRecord, v string)
}

// Options tune the extractor set.
type Options struct {
	HometownEnabled  bool
	CircumstancesMax int
	UnitMinLength    int
	BucketPrefix     string
}

// Apply runs every rule against page. Within a rule the first extractor that
// yields a value wins.
func Apply(page *Page, rules []Rule, d *fallen.DetailRecord) {
	for _, rule := range rules {
		for _, extract := range rule.Extractors {
			if v := extract(page); v != "" {
				rule.assign(d, v)
				break
			}
		}
	}
}

// BuildRules compiles the vocabulary into the ordered rule set.
func BuildRules(v *Vocabulary, opts Options) []Rule {
	if opts.CircumstancesMax <= 0 {
		opts.CircumstancesMax = defaultCircumstancesMax
	}
	if opts.UnitMinLength <= 0 {
		opts.UnitMinLength = defaultUnitMinLength
	}
	if opts.BucketPrefix == "" {
		opts.BucketPrefix = DefaultBucketPrefix
	}
	abbrevs := abbreviationSet(v)

	rules := []Rule{
		{
			Field:      "rank",
			Extractors: []Extractor{termExtractor(v.Ranks, "", headingText, regionText, fullText)},
			assign:     func(d *fallen.DetailRecord, s string) { d.Rank = s },
		},
		{
			Field:      "branch",
			Extractors: []Extractor{termExtractor(v.Branches, "U.S. ", headingText, regionText, fullText)},
			assign:     func(d *fallen.DetailRecord, s string) { d.Branch = s },
		},
		{
			Field:      "unit",
			Extractors: unitExtractors(v, opts.UnitMinLength),
			assign:     func(d *fallen.DetailRecord, s string) { d.Unit = s },
		},
		{
			Field:      "operation",
			Extractors: operationExtractors(v),
			assign:     func(d *fallen.DetailRecord, s string) { d.Operation = s },
		},
		{
			Field:      "age",
			Extractors: []Extractor{patternExtractor(agePatterns, acceptAge, regionText, fullText)},
			assign:     func(d *fallen.DetailRecord, s string) { d.Age = s },
		},
	}
	if opts.HometownEnabled {
		rules = append(rules,
			Rule{
				Field:      "hometown",
				Extractors: []Extractor{patternExtractor(hometownPatterns, acceptPlace(abbrevs), regionText, fullText)},
				assign:     func(d *fallen.DetailRecord, s string) { d.Hometown = s },
			},
			Rule{
				Field:      "death_location",
				Extractors: locationExtractors(v),
				assign:     func(d *fallen.DetailRecord, s string) { d.DeathLocation = s },
			},
		)
	}
	rules = append(rules,
		Rule{
			Field:      "circumstances",
			Extractors: circumstanceExtractors(abbrevs, opts.CircumstancesMax),
			assign:     func(d *fallen.DetailRecord, s string) { d.Circumstances = s },
		},
		Rule{
			Field:      "high_quality_image_url",
			Extractors: []Extractor{bucketImage(opts.BucketPrefix)},
			assign:     func(d *fallen.DetailRecord, s string) { d.HighQualityImageURL = s },
		},
	)
	return rules
}

type source func(p *Page) string

func headingText(p *Page) string { return p.Heading }
func regionText(p *Page) string  { return p.RegionText }
func narrativeText(p *Page) string {
	return p.Narrative
}
func fullText(p *Page) string { return p.Text }

// matchFirst tries each source in order and, within a source, each pattern in
// priority order. accept may rewrite a capture or reject it with "".
func matchFirst(p *Page, sources []source, patterns []*regexp.Regexp, accept func(string) string) string {
	for _, src := range sources {
		text := src(p)
		if text == "" {
			continue
		}
		for _, re := range patterns {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				capture := m[0]
				if len(m) > 1 {
					capture = m[1]
				}
				if v := accept(strings.TrimSpace(capture)); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func patternExtractor(patterns []*regexp.Regexp, accept func(string) string, sources ...source) Extractor {
	return func(p *Page) string {
		return matchFirst(p, sources, patterns, accept)
	}
}

type termPattern struct {
	re        *regexp.Regexp
	canonical string
}

// termExtractor matches enumerated terms as whole words and reports the
// canonical spelling with prefix.
func termExtractor(terms []Term, prefix string, sources ...source) Extractor {
	compiled := make([]termPattern, 0, len(terms))
	for _, t := range terms {
		alts := make([]string, 0, len(t.Aliases)+1)
		for _, s := range t.Spellings() {
			if s = strings.TrimSpace(s); s != "" {
				alts = append(alts, wordPattern(s))
			}
		}
		if len(alts) == 0 {
			continue
		}
		compiled = append(compiled, termPattern{
			re:        regexp.MustCompile("(?:" + strings.Join(alts, "|") + ")"),
			canonical: t.Canonical(),
		})
	}
	return func(p *Page) string {
		for _, src := range sources {
			text := src(p)
			if text == "" {
				continue
			}
			for _, tp := range compiled {
				if tp.re.MatchString(text) {
					return prefix + tp.canonical
				}
			}
		}
		return ""
	}
}

// wordPattern quotes s and anchors it on word boundaries where s begins or
// ends with a word character.
func wordPattern(s string) string {
	q := regexp.QuoteMeta(s)
	if r, _ := utf8.DecodeRuneInString(s); isWordRune(r) {
		q = `\b` + q
	}
	if r, _ := utf8.DecodeLastRuneInString(s); isWordRune(r) {
		q += `\b`
	}
	return q
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func literalPatterns(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, regexp.MustCompile("("+wordPattern(w)+")"))
		}
	}
	return out
}

func keywordAlternation(keywords []string) string {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

func unitExtractors(v *Vocabulary, minLen int) []Extractor {
	kw := keywordAlternation(v.UnitKeywords)
	keywordRe := regexp.MustCompile(`\b` + kw + `\b`)
	unitPhrase := `\d+(?:st|nd|rd|th)?\s+(?:[A-Z][\w'&-]*\s+){0,4}` + kw
	assigned := regexp.MustCompile(`(?i)\bassigned to (?:the )?([^;\n]+)`)
	ordinal := regexp.MustCompile(`\b(` + unitPhrase + `(?:,\s+` + unitPhrase + `)*)\b`)
	special := regexp.MustCompile(`\b(Special Operations [A-Z][\w'-]*(?:\s[A-Z][\w'-]*){0,4})`)

	deny := make([]string, 0, len(v.UnitDenylist))
	for _, d := range v.UnitDenylist {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			deny = append(deny, d)
		}
	}
	accept := func(s string) string {
		s = strings.Trim(collapse(s), " ,.")
		if utf8.RuneCountInString(s) < minLen {
			return ""
		}
		lower := strings.ToLower(s)
		for _, d := range deny {
			if strings.Contains(lower, d) {
				return ""
			}
		}
		return s
	}
	// An "assigned to" clause is cut after its last unit keyword, dropping the
	// trailing base name.
	acceptAssigned := func(s string) string {
		idx := keywordRe.FindAllStringIndex(s, -1)
		if len(idx) == 0 {
			return ""
		}
		return accept(s[:idx[len(idx)-1][1]])
	}

	return []Extractor{
		patternExtractor([]*regexp.Regexp{assigned}, acceptAssigned, regionText, fullText),
		patternExtractor([]*regexp.Regexp{ordinal, special}, accept, regionText, fullText),
	}
}

var genericOperation = regexp.MustCompile(`\b(Operation [A-Z][a-z'’]+(?: [A-Z][a-z'’]+){0,2})`)

func operationExtractors(v *Vocabulary) []Extractor {
	identity := func(s string) string { return s }
	return []Extractor{
		patternExtractor(literalPatterns(v.Operations), identity, regionText, fullText),
		patternExtractor([]*regexp.Regexp{genericOperation}, identity, regionText, fullText),
	}
}

var agePatterns = []*regexp.Regexp{
	regexp.MustCompile(`,\s*(\d{1,3}),\s*(?:of|from)\b`),
	regexp.MustCompile(`(?i)\bage[:\s]+(\d{1,3})\b`),
	regexp.MustCompile(`(?i)\baged\s+(\d{1,3})\b`),
	regexp.MustCompile(`(?i)\b(\d{1,3})[- ]years?[- ]old\b`),
}

func acceptAge(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil || n < minAge || n > maxAge {
		return ""
	}
	return strconv.Itoa(n)
}

var hometownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`,\s*\d{1,3},\s*of\s+([A-Z][^;\n]*?)(?:;|,\s+(?:died|was|who|killed|assigned|and)\b|\n|$)`),
	regexp.MustCompile(`\bfrom\s+([A-Z][A-Za-z .'-]+,\s+[A-Z]{2})\b`),
	regexp.MustCompile(`(?i)\bhometown[:\s]+([^;\n]+)`),
}

// acceptPlace keeps the first sentence of a captured place and rejects
// captures too long to be a place name.
func acceptPlace(abbrevs map[string]bool) func(string) string {
	return func(s string) string {
		s = strings.Trim(collapse(firstSentence(s, abbrevs)), " ,")
		if strings.HasSuffix(s, ".") && !endsWithAbbreviation(s, abbrevs) {
			s = strings.TrimSuffix(s, ".")
		}
		if s == "" || utf8.RuneCountInString(s) > maxPlaceRunes {
			return ""
		}
		return s
	}
}

const placeName = `[A-Z][A-Za-z'’-]+(?:\s[A-Z][A-Za-z'’-]+)*`

var (
	locationPhrases = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:killed|died)\s+(?:[A-Z][a-z]+\.?\s+\d{1,2},?\s+(?:\d{4}\s+)?|[A-Z][a-z]+day\s+)?in\s+(` +
			placeName + `(?:,\s+` + placeName + `)?)`),
		regexp.MustCompile(`\b[Pp]rovince of\s+(` + placeName + `)`),
		regexp.MustCompile(`\bnear\s+(` + placeName + `(?:,\s+` + placeName + `)?)`),
	}
	notPlaces = map[string]bool{
		"Operation": true, "Action": true, "Combat": true, "Support": true, "The": true,
		"January": true, "February": true, "March": true, "April": true, "May": true, "June": true,
		"July": true, "August": true, "September": true, "October": true, "November": true, "December": true,
	}
)

func acceptLocation(s string) string {
	first := strings.Fields(s)
	if len(first) == 0 || notPlaces[first[0]] || utf8.RuneCountInString(s) > maxPlaceRunes {
		return ""
	}
	return s
}

func locationExtractors(v *Vocabulary) []Extractor {
	identity := func(s string) string { return s }
	return []Extractor{
		patternExtractor(locationPhrases, acceptLocation, regionText, fullText),
		patternExtractor(literalPatterns(v.Places), identity, regionText, fullText),
	}
}

var circumstancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(killed in action[^.]*\.)`),
	regexp.MustCompile(`(?i)(died from[^.]*\.)`),
	regexp.MustCompile(`(?i)(was killed when[^.]*\.)`),
	regexp.MustCompile(`(?i)(died [^.\n]*? when [^.\n]*\.)`),
}

func circumstanceExtractors(abbrevs map[string]bool, maxRunes int) []Extractor {
	truncate := func(s string) string { return truncateRunes(collapse(s), maxRunes) }
	return []Extractor{
		func(p *Page) string {
			if p.Narrative == "" {
				return ""
			}
			return truncate(firstSentence(narrativeText(p), abbrevs))
		},
		patternExtractor(circumstancePatterns, truncate, fullText),
	}
}

func bucketImage(prefix string) Extractor {
	return func(p *Page) string {
		scopes := make([]*goquery.Selection, 0, 3)
		if p.HasRegion() {
			scopes = append(scopes, p.Region.Find(".record-image img"))
		}
		scopes = append(scopes, p.Doc.Find(".record-image img"), p.Doc.Find("img"))
		for _, scope := range scopes {
			var found string
			scope.EachWithBreak(func(_ int, img *goquery.Selection) bool {
				for _, attr := range []string{"src", "data-src"} {
					if src := strings.TrimSpace(img.AttrOr(attr, "")); strings.HasPrefix(src, prefix) {
						found = src
						return false
					}
				}
				return true
			})
			if found != "" {
				return found
			}
		}
		return ""
	}
}

var initialsRe = regexp.MustCompile(`^\(?(?:[A-Za-z]\.)+$`)

func abbreviationSet(v *Vocabulary) map[string]bool {
	set := make(map[string]bool, len(v.Abbreviations)+len(v.Ranks)*2)
	for _, a := range v.Abbreviations {
		set[strings.TrimSpace(a)] = true
	}
	for _, t := range v.Ranks {
		for _, alias := range t.Aliases {
			for _, word := range strings.Fields(alias) {
				if strings.HasSuffix(word, ".") {
					set[word] = true
				}
			}
		}
	}
	return set
}

func endsWithAbbreviation(s string, abbrevs map[string]bool) bool {
	token := s[strings.LastIndexAny(s, " \n")+1:]
	return abbrevs[token] || initialsRe.MatchString(token)
}

// firstSentence returns text up to the first terminator that is not part of
// an abbreviation or initial.
func firstSentence(text string, abbrevs map[string]bool) string {
	text = strings.TrimSpace(text)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		if c == '.' && endsWithAbbreviation(text[:i+1], abbrevs) {
			continue
		}
		return text[:i+1]
	}
	return text
}

// truncateRunes shortens s to at most maxRunes runes, ending in "...".
func truncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	cut := strings.TrimRight(string(runes[:maxRunes-3]), " ,;:")
	return cut + "..."
}
