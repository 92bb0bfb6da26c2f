package document

import "strings"

// GarbleScore computes the fraction of lines at least 15 characters long
// that contain a horizontal gap of 3+ spaces or 2+ tabs — a heuristic for
// multi-column text that a naive extractor merged horizontally into one
// line (spec.md §4.1). Hand-tuned threshold lives in RAGConfig.GarbleThreshold
// (default 0.25); re-calibrate per OCR/text-extract stack.
func GarbleScore(text string) float64 {
	lines := strings.Split(text, "\n")
	var eligible, garbled int
	for _, line := range lines {
		if len(line) < 15 {
			continue
		}
		eligible++
		if hasHorizontalGap(line) {
			garbled++
		}
	}
	if eligible == 0 {
		return 0
	}
	return float64(garbled) / float64(eligible)
}

// hasHorizontalGap reports whether line contains a run of 3+ spaces or 2+
// tabs, the signature of columns concatenated by a naive text extractor.
func hasHorizontalGap(line string) bool {
	spaceRun, tabRun := 0, 0
	for _, r := range line {
		switch r {
		case ' ':
			spaceRun++
			tabRun = 0
			if spaceRun >= 3 {
				return true
			}
		case '\t':
			tabRun++
			spaceRun = 0
			if tabRun >= 2 {
				return true
			}
		default:
			spaceRun = 0
			tabRun = 0
		}
	}
	return false
}
