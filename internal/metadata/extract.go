package metadata

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

var (
	labelPattern = regexp.MustCompile(`(?i)\b(skaters?|riders?|tricks?|obstacles?|spots?|locations?)\s*:`)

	locationPattern = regexp.MustCompile(`\b(?:in|at)\s+([A-Z][A-Za-z.'-]*(?:(?:\s+|,\s*)[A-Z][A-Za-z.'-]*)*)`)

	tokenPattern = regexp.MustCompile(`[A-Za-z0-9]+(?:['-][A-Za-z0-9]+)*`)

	pipePattern = regexp.MustCompile(`(?i)\b(quarter|half)[ -]?pipe\b`)

	namePattern = regexp.MustCompile(`^[A-Z][A-Za-z]*[a-z][A-Za-z'-]*$`)

	listSeparators = regexp.MustCompile(`\s*(?:,|&|/|;|\band\b)\s*`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept?|Oct|Nov|Dec|Winter|Summer)\.?,?\s+((?:19|20)\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2})/((?:19|20)\d{2})\b`),
	}
	isoDatePattern = regexp.MustCompile(`\b((?:19|20)\d{2})-(\d{2})\b`)
)

// trickWords are matched as runs of adjacent words ("frontside ollie").
// Modifiers only count when the run also has a core trick word.
var (
	trickWords = wordSet(
		"kickflip", "heelflip", "hardflip", "ollie", "180", "360", "540", "shove", "shove-it",
		"varial", "manual", "grind", "slide", "50-50", "5-0", "boardslide", "lipslide",
		"noseslide", "tailslide", "bluntslide", "crooked", "crooks", "smith", "feeble",
		"nosegrind", "tailgrind", "overcrook", "salad", "boneless", "invert", "impossible",
	)
	trickModifiers = wordSet(
		"backside", "frontside", "switch", "nollie", "fakie", "pop", "double", "triple",
		"nose", "tail", "kickflip", "heelflip",
	)
	obstacleWords = wordSet(
		"rail", "handrail", "ledge", "stairs", "gap", "bank", "ramp", "bowl", "pool", "curb",
		"kicker", "funbox", "pyramid", "spine", "wall", "wallride", "tree", "pole", "bench",
		"quarterpipe", "halfpipe",
	)
	monthWords = wordSet(
		"january", "february", "march", "april", "may", "june", "july", "august",
		"september", "october", "november", "december", "winter", "summer",
	)
	nameStopWords = wordSet(
		"thrasher", "magazine", "cover", "covers", "issue", "photo", "photos", "by", "the",
		"and", "in", "at", "on", "skater", "skaters", "trick", "location", "obstacle", "spot",
	)
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func inSet(set map[string]struct{}, word string) bool {
	_, ok := set[strings.ToLower(word)]
	return ok
}

// findIssueDate locates the first issue month mentioned in text and returns
// the text with that mention removed.
func findIssueDate(text string) (cover.IssueDate, string, bool) {
	for _, pattern := range datePatterns {
		loc := pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		month, ok := cover.ParseMonth(text[loc[2]:loc[3]])
		if !ok {
			continue
		}
		date, err := cover.NewIssueDate(atoi(text[loc[4]:loc[5]]), month)
		if err != nil {
			continue
		}
		return date, text[:loc[0]] + " " + text[loc[1]:], true
	}
	if loc := isoDatePattern.FindStringSubmatchIndex(text); loc != nil {
		month, ok := cover.ParseMonth(text[loc[4]:loc[5]])
		if ok {
			date, err := cover.NewIssueDate(atoi(text[loc[2]:loc[3]]), month)
			if err == nil {
				return date, text[:loc[0]] + " " + text[loc[1]:], true
			}
		}
	}
	return cover.IssueDate{}, text, false
}

func atoi(digits string) int {
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	return n
}

// Extract pulls descriptive fields out of free text. Labeled fields
// ("Skater: ...") win over pattern matches for the same field; fields that
// cannot be found stay empty. Date is left unset.
func Extract(text string) cover.MetadataRecord {
	var rec cover.MetadataRecord
	labeled, rest := splitLabels(text)

	for label, value := range labeled {
		switch label {
		case "skater":
			rec.Skaters = splitList(value)
		case "trick":
			rec.Tricks = splitList(value)
		case "obstacle":
			rec.Obstacles = splitList(value)
		case "location":
			rec.Location = trimValue(value)
		}
	}

	if rec.Location == "" {
		rec.Location = findLocation(rest)
	}
	if rec.Location != "" {
		rest = strings.ReplaceAll(rest, rec.Location, " ")
	}
	if len(rec.Tricks) == 0 {
		rec.Tricks = findTricks(rest)
	}
	if len(rec.Obstacles) == 0 {
		rec.Obstacles = findObstacles(rest)
	}
	if len(rec.Skaters) == 0 {
		rec.Skaters = findNames(rest)
	}
	return rec
}

// splitLabels separates "Label: value" segments from the remaining text.
// A value runs until the next label or the end of its line.
func splitLabels(text string) (map[string]string, string) {
	labeled := make(map[string]string)
	var rest strings.Builder
	for _, line := range strings.Split(text, "\n") {
		matches := labelPattern.FindAllStringSubmatchIndex(line, -1)
		if len(matches) == 0 {
			rest.WriteString(line)
			rest.WriteString("\n")
			continue
		}
		rest.WriteString(line[:matches[0][0]])
		rest.WriteString("\n")
		for i, m := range matches {
			end := len(line)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			key := canonicalLabel(line[m[2]:m[3]])
			value := trimValue(line[m[1]:end])
			if value == "" {
				continue
			}
			if _, seen := labeled[key]; !seen {
				labeled[key] = value
			}
		}
	}
	return labeled, rest.String()
}

func canonicalLabel(label string) string {
	label = strings.TrimSuffix(strings.ToLower(label), "s")
	switch label {
	case "rider":
		return "skater"
	case "spot":
		return "obstacle"
	}
	return label
}

func trimValue(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	return strings.TrimFunc(value, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '|' || r == '-' || r == '.'
	})
}

func splitList(value string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range listSeparators.Split(value, -1) {
		part = trimValue(part)
		if part == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(part)]; dup {
			continue
		}
		seen[strings.ToLower(part)] = struct{}{}
		out = append(out, part)
	}
	return out
}

func findLocation(text string) string {
	for _, m := range locationPattern.FindAllStringSubmatch(text, -1) {
		var words []string
		for _, w := range strings.Fields(m[1]) {
			bare := strings.Trim(w, ",.")
			if inSet(monthWords, bare) || inSet(nameStopWords, bare) {
				break
			}
			words = append(words, w)
		}
		if candidate := trimValue(strings.Join(words, " ")); candidate != "" {
			return candidate
		}
	}
	return ""
}

type token struct {
	text       string
	start, end int
}

func tokenize(text string) []token {
	locs := tokenPattern.FindAllStringIndex(text, -1)
	tokens := make([]token, 0, len(locs))
	for _, loc := range locs {
		tokens = append(tokens, token{text: text[loc[0]:loc[1]], start: loc[0], end: loc[1]})
	}
	return tokens
}

// adjacent reports whether only spaces separate two tokens.
func adjacent(text string, a, b token) bool {
	return strings.TrimSpace(text[a.end:b.start]) == ""
}

// runs groups consecutive tokens accepted by keep into space-separated runs.
func runs(text string, tokens []token, keep func(string) bool) [][]token {
	var out [][]token
	var current []token
	flush := func() {
		if len(current) > 0 {
			out = append(out, current)
			current = nil
		}
	}
	for _, tok := range tokens {
		if !keep(tok.text) {
			flush()
			continue
		}
		if len(current) > 0 && !adjacent(text, current[len(current)-1], tok) {
			flush()
		}
		current = append(current, tok)
	}
	flush()
	return out
}

func findTricks(text string) []string {
	isTrickish := func(w string) bool { return inSet(trickWords, w) || inSet(trickModifiers, w) }
	var out []string
	seen := make(map[string]struct{})
	for _, run := range runs(text, tokenize(text), isTrickish) {
		core := false
		for _, tok := range run {
			if inSet(trickWords, tok.text) {
				core = true
				break
			}
		}
		if !core {
			continue
		}
		phrase := titleWords(run)
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		out = append(out, phrase)
	}
	return out
}

func findObstacles(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, m := range pipePattern.FindAllStringSubmatch(text, -1) {
		add(titleCase(strings.ToLower(m[1])) + " Pipe")
	}
	text = pipePattern.ReplaceAllString(text, " ")
	for _, tok := range tokenize(text) {
		if inSet(obstacleWords, tok.text) {
			add(titleCase(strings.ToLower(tok.text)))
		}
	}
	return out
}

// findNames returns runs of two or three capitalized words; longer runs of
// four are read as two names.
func findNames(text string) []string {
	isName := func(w string) bool {
		return namePattern.MatchString(w) &&
			!inSet(monthWords, w) &&
			!inSet(nameStopWords, w) &&
			!inSet(trickWords, w) &&
			!inSet(trickModifiers, w) &&
			!inSet(obstacleWords, w)
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(run []token) {
		name := joinTokens(run)
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, run := range runs(text, tokenize(text), isName) {
		switch len(run) {
		case 2, 3:
			add(run)
		case 4:
			add(run[:2])
			add(run[2:])
		}
	}
	return out
}

func joinTokens(run []token) string {
	parts := make([]string, len(run))
	for i, tok := range run {
		parts[i] = tok.text
	}
	return strings.Join(parts, " ")
}

func titleWords(run []token) string {
	parts := make([]string, len(run))
	for i, tok := range run {
		parts[i] = titleCase(strings.ToLower(tok.text))
	}
	return strings.Join(parts, " ")
}

func titleCase(word string) string {
	if word == "" {
		return word
	}
	runes := []rune(word)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
