package chat

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// artifactPattern matches the <artifact id="..." type="..." language="..."
// title="...">...</artifact> tag family a generation may emit for
// renderable content (code, diagrams, documents) that deserves its own
// panel instead of living inline in the chat transcript.
var artifactPattern = regexp.MustCompile(`(?s)<artifact\s+([^>]*)>(.*?)</artifact>`)
var attrPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// extractArtifacts pulls every <artifact> block out of content, returning
// the remaining prose and the parsed Artifact list. A block missing an id
// gets one derived from its content hash so repeated generations stay
// stable.
func extractArtifacts(content string) (string, []Artifact) {
	matches := artifactPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var artifacts []Artifact
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		attrsRaw := content[m[2]:m[3]]
		body := strings.TrimSpace(content[m[4]:m[5]])

		attrs := map[string]string{}
		for _, am := range attrPattern.FindAllStringSubmatch(attrsRaw, -1) {
			attrs[am[1]] = am[2]
		}

		id := attrs["id"]
		if id == "" {
			id = contentHash(body)
		}

		artifacts = append(artifacts, Artifact{
			ID:       id,
			Type:     defaultString(attrs["type"], "code"),
			Language: attrs["language"],
			Title:    attrs["title"],
			Content:  body,
		})

		b.WriteString(content[last:start])
		last = end
	}
	b.WriteString(content[last:])
	return strings.TrimSpace(b.String()), artifacts
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func contentHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
