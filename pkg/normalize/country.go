package normalize

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/dataresearchcenter/datasets/pkg/entity"
)

// defaultCountryNames maps fingerprinted country names (German and English)
// to ISO 3166-1 alpha-2 codes.
var defaultCountryNames = map[string]string{
	"deutschland": "de", "germany": "de", "bundesrepublik deutschland": "de",
	"osterreich": "at", "austria": "at",
	"schweiz": "ch", "switzerland": "ch",
	"frankreich": "fr", "france": "fr",
	"italien": "it", "italy": "it",
	"spanien": "es", "spain": "es",
	"niederlande": "nl", "netherlands": "nl",
	"belgien": "be", "belgium": "be",
	"luxemburg": "lu", "luxembourg": "lu",
	"danemark": "dk", "denmark": "dk",
	"polen": "pl", "poland": "pl",
	"tschechien": "cz", "czech republic": "cz", "czechia": "cz",
	"schweden": "se", "sweden": "se",
	"norwegen": "no", "norway": "no",
	"finnland": "fi", "finland": "fi",
	"irland": "ie", "ireland": "ie",
	"portugal": "pt",
	"griechenland": "gr", "greece": "gr",
	"ungarn": "hu", "hungary": "hu",
	"grossbritannien": "gb", "vereinigtes konigreich": "gb", "united kingdom": "gb",
	"vereinigte staaten": "us", "usa": "us", "united states": "us",
	"kanada": "ca", "canada": "ca",
	"china": "cn", "japan": "jp",
	"russland": "ru", "russia": "ru", "russische foderation": "ru",
	"ukraine": "ua",
	"turkei": "tr", "turkey": "tr",
	"israel": "il",
	"liechtenstein": "li",
	"europaische union": "eu", "european union": "eu",
}

// Countries canonicalizes country names and codes to lower-case ISO codes.
type Countries struct {
	names map[string]string
}

// NewCountries builds a resolver over the default name table plus extra
// name → code entries.
func NewCountries(extra map[string]string) *Countries {
	names := make(map[string]string, len(defaultCountryNames)+len(extra))
	for k, v := range defaultCountryNames {
		names[k] = v
	}
	for k, v := range extra {
		names[entity.Fingerprint(k)] = strings.ToLower(strings.TrimSpace(v))
	}
	return &Countries{names: names}
}

// Code returns the ISO code for value. GND area codes are understood:
// "XA-DE" → "de", "XA" → "eu", "XQ" → "zz".
func (c *Countries) Code(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}
	upper := strings.ToUpper(v)
	switch {
	case upper == "XA":
		return "eu", true
	case upper == "XQ":
		return "zz", true
	case strings.HasPrefix(upper, "XA-") || strings.HasPrefix(upper, "XB-") || strings.HasPrefix(upper, "XC-"):
		parts := strings.Split(upper, "-")
		return c.Code(parts[1])
	}
	if len(v) == 2 || len(v) == 3 {
		if region, err := language.ParseRegion(v); err == nil && region.IsCountry() {
			return strings.ToLower(region.String()), true
		}
	}
	if code, ok := c.names[entity.Fingerprint(v)]; ok {
		return code, true
	}
	return "", false
}
