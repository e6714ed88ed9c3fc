package generate

import (
	"sort"
	"strings"
)

// frameworkNames maps substrings found in a question's frameworks text to
// canonical framework tags. Tags power the "collect once, use many" view:
// one piece of evidence can satisfy several frameworks at once.
var frameworkNames = map[string]string{
	"dst":              "Dubai Sustainable Tourism",
	"green key":        "Green Key Global",
	"al sa'fat":        "Al Sa'fat Dubai",
	"estidama":         "Estidama Pearl",
	"leed":             "LEED",
	"breeam":           "BREEAM",
	"iso 14001":        "ISO 14001",
	"climate law":      "UAE Climate Law",
	"waste management": "UAE Waste Management Law",
	"federal law":      "UAE Federal Law",
	"ssi":              "Sustainable Schools Initiative",
	"adek":             "ADEK Sustainability Policy",
	"doh":              "DoH Sustainability Goals",
	"mohap":            "MOHAP Hospital Regulation",
}

// ExtractFrameworkTags derives framework tags from free-form frameworks text.
// Known framework names win; when none are present the text falls back to
// obligation and jurisdiction buckets. The result is sorted and de-duplicated.
func ExtractFrameworkTags(frameworksText string) []string {
	if strings.TrimSpace(frameworksText) == "" {
		return nil
	}

	lower := strings.ToLower(frameworksText)
	set := make(map[string]struct{})

	for needle, tag := range frameworkNames {
		if strings.Contains(lower, needle) {
			set[tag] = struct{}{}
		}
	}

	if len(set) == 0 {
		for needle, tag := range map[string]string{
			"mandatory": "Mandatory Compliance",
			"voluntary": "Voluntary Standard",
			"dubai":     "Dubai Regulation",
			"abu dhabi": "Abu Dhabi Regulation",
			"federal":   "Federal Regulation",
		} {
			if strings.Contains(lower, needle) {
				set[tag] = struct{}{}
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
