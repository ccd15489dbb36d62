package zip

import "strings"

// sanitizeExtractPath simplifies an archive entry name into a slash-separated,
// traversal-safe relative path: drive/root components are dropped (so an
// absolute-looking entry name still extracts somewhere under the
// destination directory, matching common ZIP tool behavior), "." components
// are skipped, and ".." components pop the last kept segment rather than
// being rejected outright. An entry whose ".." components outnumber the
// normal components that precede them is considered a traversal attempt and
// reported via ok=false, as is a name containing a NUL byte.
func sanitizeExtractPath(name string) (cleaned string, ok bool) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", false
	}
	name = strings.ReplaceAll(name, `\`, "/")

	var out []string
	for _, part := range strings.Split(name, "/") {
		switch {
		case part == "", part == ".":
			// Skip empty (root, or duplicate slash) and current-dir
			// components.
		case isDriveLetter(part) && len(out) == 0:
			// Drop a leading Windows drive-letter component ("C:").
		case part == "..":
			if len(out) == 0 {
				return "", false
			}
			out = out[:len(out)-1]
		default:
			out = append(out, part)
		}
	}
	return strings.Join(out, "/"), true
}

func isDriveLetter(part string) bool {
	if len(part) != 2 || part[1] != ':' {
		return false
	}
	c := part[0]
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}
