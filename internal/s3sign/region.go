package s3sign

import "strings"

// guessRegion implements spec.md §4.2: endpoints ending in
// ".r2.cloudflarestorage.com" guess "auto"; endpoints carrying both
// "s3." and ".amazonaws.com" guess the region between those markers;
// everything else guesses "us-east-1".
func guessRegion(endpoint string) string {
	if endpoint == "" {
		return "us-east-1"
	}
	if strings.HasSuffix(endpoint, ".r2.cloudflarestorage.com") {
		return "auto"
	}
	if i := strings.Index(endpoint, "s3."); i >= 0 {
		if j := strings.Index(endpoint[i:], ".amazonaws.com"); j >= 0 {
			region := endpoint[i+len("s3.") : i+j]
			if region != "" {
				return region
			}
		}
	}
	return "us-east-1"
}
