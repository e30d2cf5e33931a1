package classifier

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
)

// NumFeatures is the length of the feature vector. Model artifacts for the
// linear tier must declare exactly this many weights.
const NumFeatures = 19

// featureNames lists the vector layout in order. Artifacts name their
// features explicitly and are checked against this layout at load time so a
// model trained on a different extraction can never be silently applied.
var featureNames = []string{
	"url_length",
	"hostname_length",
	"path_length",
	"query_length",
	"dot_count",
	"hyphen_count",
	"at_count",
	"question_count",
	"equal_count",
	"slash_count",
	"percent_count",
	"digits_count",
	"letters_count",
	"contains_ip",
	"is_shortened",
	"has_https",
	"path_depth",
	"num_subdomains",
	"suspicious_word_count",
}

var ipLiteralRe = regexp.MustCompile(`(([01]?\d\d?|2[0-4]\d|25[0-5])\.){3}([01]?\d\d?|2[0-4]\d|25[0-5])`)

// shortenerHosts are well-known link shortening services; a URL pointing at
// one of them is itself a weak malice signal (layered redirection).
var shortenerHosts = regexp.MustCompile(
	`bit\.ly|goo\.gl|shorte\.st|go2l\.ink|x\.co|ow\.ly|t\.co|tinyurl|tr\.im|is\.gd|cli\.gs|` +
		`yfrog\.com|migre\.me|ff\.im|tiny\.cc|url4\.eu|twit\.ac|su\.pr|twurl\.nl|snipurl\.com|` +
		`short\.to|budurl\.com|ping\.fm|post\.ly|just\.as|bkite\.com|snipr\.com|fic\.kr|loopt\.us|` +
		`doiop\.com|short\.ie|kl\.am|wp\.me|rubyurl\.com|om\.ly|to\.ly|bit\.do|lnkd\.in|` +
		`db\.tt|qr\.ae|adf\.ly|bitly\.com|cur\.lv|ity\.im|` +
		`q\.gs|po\.st|bc\.vc|twitthis\.com|u\.to|j\.mp|buzurl\.com|cutt\.us|u\.bb|yourls\.org|` +
		`prettylinkpro\.com|scrnch\.me|filoops\.info|vzturl\.com|qr\.net|1url\.com|tweez\.me|v\.gd|` +
		`link\.zip\.net`)

// suspiciousWords are substrings common in phishing and credential-harvest
// URLs.
var suspiciousWords = []string{
	"login", "verify", "update", "account", "bank", "secure", "ebayisapi", "webscr",
}

// ExtractFeatures turns a raw URL string into the fixed-size numeric vector
// consumed by the linear tier. Extraction is total: unparseable URLs fall
// back to string-level counts with the URL-structure features zeroed.
func ExtractFeatures(raw string) []float64 {
	var host, path, query, scheme string
	if u, err := url.Parse(raw); err == nil {
		host = u.Host
		path = u.Path
		query = u.RawQuery
		scheme = u.Scheme
	}

	lower := strings.ToLower(raw)
	var digits, letters float64
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}

	var suspicious float64
	for _, w := range suspiciousWords {
		if strings.Contains(lower, w) {
			suspicious++
		}
	}

	return []float64{
		float64(len(raw)),
		float64(len(host)),
		float64(len(path)),
		float64(len(query)),
		float64(strings.Count(raw, ".")),
		float64(strings.Count(raw, "-")),
		float64(strings.Count(raw, "@")),
		float64(strings.Count(raw, "?")),
		float64(strings.Count(raw, "=")),
		float64(strings.Count(raw, "/")),
		float64(strings.Count(raw, "%")),
		digits,
		letters,
		boolFeature(ipLiteralRe.MatchString(host)),
		boolFeature(shortenerHosts.MatchString(lower)),
		boolFeature(scheme == "https"),
		float64(strings.Count(path, "/")),
		subdomainCount(host),
		suspicious,
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// subdomainCount counts host labels left of the registrable domain,
// ignoring a leading "www". The public suffix list keeps multi-label TLDs
// like co.uk from inflating the count.
func subdomainCount(host string) float64 {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return 0
	}

	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || len(host) <= len(etldPlusOne) {
		return 0
	}
	prefix := strings.TrimSuffix(host[:len(host)-len(etldPlusOne)], ".")
	if prefix == "" {
		return 0
	}
	labels := strings.Split(prefix, ".")
	n := 0
	for i, l := range labels {
		if i == 0 && l == "www" {
			continue
		}
		if l != "" {
			n++
		}
	}
	return float64(n)
}
