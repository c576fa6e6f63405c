package logs

import (
	"regexp"
)

// Category names the five mutually exclusive error buckets, ranked by how
// urgently an agent should look at them.
type Category string

const (
	CategoryBuild   Category = "build"
	CategoryServer  Category = "server"
	CategoryBrowser Category = "browser"
	CategoryNetwork Category = "network"
	CategoryWarning Category = "warning"
)

var (
	// hardErrorPattern is the broad error vocabulary applied to unstructured
	// text. Anything matching here is a real error candidate.
	hardErrorPattern = regexp.MustCompile(`(?i)(\berror\b|\bfail(?:ed|ure)?\b|exception|\bcritical\b|\bfatal\b|crashed|cannot read propert|undefined is not|null is not|is not defined|of undefined|of null|\b(?:404|500|503)\b|uncaught|\btimed? ?out\b|refused|denied|unauthorized|hydration)`)

	// warningPattern matches soft problems. A line is only a warning when it
	// matches here and nowhere in the hard vocabulary.
	warningPattern = regexp.MustCompile(`(?i)(\bwarn(?:ing)?\b|deprecated)`)

	buildErrorPattern = regexp.MustCompile(`(?i)(failed to compile|compil(?:e|ation) error|build (?:error|failed)|module not found|webpack|turbopack|syntax ?error|\bTS\d{4,5}\b)`)

	networkErrorPattern = regexp.MustCompile(`(?i)(\b(?:404|500|503)\b|net::ERR_|ERR_CONNECTION|fetch failed|ECONNREFUSED|ENOTFOUND|CORS)`)

	// networkSuccessPattern recognizes 2xx/3xx statuses on [NETWORK] lines.
	// Success responses are never errors, even when another token on the same
	// line matches the error vocabulary.
	networkSuccessPattern = regexp.MustCompile(`\b[23]\d{2}\b`)

	// noisePatterns are framework messages that look alarming but mean
	// nothing: preload hints, font fallbacks, devtools advertisements.
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`was preloaded using link preload but not used`),
		regexp.MustCompile(`(?i)the resource .* was preloaded`),
		regexp.MustCompile(`(?i)fallback font will be used`),
		regexp.MustCompile(`(?i)slow network is detected`),
		regexp.MustCompile(`Download the React DevTools`),
	}
)

// CategorizedErrors holds the five buckets. A line lands in at most one.
type CategorizedErrors struct {
	ServerErrors  []Line `json:"serverErrors"`
	BrowserErrors []Line `json:"browserErrors"`
	BuildErrors   []Line `json:"buildErrors"`
	NetworkErrors []Line `json:"networkErrors"`
	Warnings      []Line `json:"warnings"`
}

// Count returns the total number of categorized lines.
func (c *CategorizedErrors) Count() int {
	return len(c.ServerErrors) + len(c.BrowserErrors) + len(c.BuildErrors) +
		len(c.NetworkErrors) + len(c.Warnings)
}

// Categorize decides which bucket, if any, a line belongs to.
func Categorize(line Line) (Category, bool) {
	if isNoise(line) {
		return "", false
	}

	hard := hardErrorPattern.MatchString(line.Raw)
	warn := warningPattern.MatchString(line.Raw)

	if !hard {
		if warn {
			return CategoryWarning, true
		}
		return "", false
	}

	switch {
	case buildErrorPattern.MatchString(line.Raw):
		return CategoryBuild, true
	case line.Type == TypeNetwork || networkErrorPattern.MatchString(line.Raw):
		return CategoryNetwork, true
	case line.Source == SourceBrowser || line.Type == TypeConsoleError:
		return CategoryBrowser, true
	default:
		return CategoryServer, true
	}
}

// CategorizeLines partitions raw log lines into the five buckets.
func CategorizeLines(lines []Line) *CategorizedErrors {
	result := &CategorizedErrors{}

	for _, line := range lines {
		category, ok := Categorize(line)
		if !ok {
			continue
		}
		switch category {
		case CategoryBuild:
			result.BuildErrors = append(result.BuildErrors, line)
		case CategoryServer:
			result.ServerErrors = append(result.ServerErrors, line)
		case CategoryBrowser:
			result.BrowserErrors = append(result.BrowserErrors, line)
		case CategoryNetwork:
			result.NetworkErrors = append(result.NetworkErrors, line)
		case CategoryWarning:
			result.Warnings = append(result.Warnings, line)
		}
	}

	return result
}

func isNoise(line Line) bool {
	// A [NETWORK] line carrying a 2xx/3xx status is a success record no
	// matter what else appears on it.
	if line.Type == TypeNetwork && networkSuccessPattern.MatchString(line.Payload) {
		return true
	}

	for _, pattern := range noisePatterns {
		if pattern.MatchString(line.Raw) {
			return true
		}
	}
	return false
}
