package normalize

import "strings"

// Gender values.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

var genderCodes = map[string]string{
	"m": GenderMale, "male": GenderMale, "mann": GenderMale, "männlich": GenderMale, "herr": GenderMale,
	"w": GenderFemale, "f": GenderFemale, "female": GenderFemale, "frau": GenderFemale, "weiblich": GenderFemale,
	"d": GenderOther, "divers": GenderOther, "diverse": GenderOther, "other": GenderOther,
}

// Gender maps a source gender code onto male, female or other.
func Gender(value string) (string, bool) {
	g, ok := genderCodes[strings.ToLower(strings.TrimSpace(value))]
	return g, ok
}
