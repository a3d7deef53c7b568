package session

import "html"

const maxNameLength = 50

// SanitizeName HTML-entity-encodes a player-supplied name and caps its
// length. Encoding covers & < > " ' (html.EscapeString's fixed set), which
// is exactly what spec §6 requires; nothing in the example corpus carries a
// dedicated sanitization library for this narrow a concern, so the standard
// library covers it (see DESIGN.md).
func SanitizeName(name string) string {
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return html.EscapeString(name)
}
