package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section. "" is the top level.
var knownKeys = map[string][]string{
	"":    {"log_level", "log_format", "data_dir", "api", "device", "watch"},
	"api": {"endpoint", "refresh_endpoint", "timeout"},
	"device": {
		"app_version", "app_build_number", "timezone", "device_id", "device_name",
		"ios_version", "accept_language", "client_name",
	},
	"watch": {"dir", "extensions", "develop_in_days", "settle_delay"},
}

func init() {
	// Sorted for deterministic suggestions when two candidates have the same
	// edit distance.
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key in the same section when one is near enough.
func buildKeyError(key toml.Key) error {
	section, field := "", key.String()

	if len(key) > 1 {
		if _, ok := knownKeys[key[0]]; ok {
			section, field = key[0], strings.Join(key[1:], ".")
		}
	}

	display := field
	if section != "" {
		display = section + "." + field
	}

	suggestion := closestMatch(field, knownKeys[section])
	if suggestion != "" {
		if section != "" {
			suggestion = section + "." + suggestion
		}

		return fmt.Errorf("unknown config key %q; did you mean %q?", display, suggestion)
	}

	return fmt.Errorf("unknown config key %q", display)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
