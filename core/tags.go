package core

// Tag helpers shared by every entity carrying a free-form label set.
// Both operations are idempotent: adding a present tag and removing an
// absent one are no-ops, never errors, so client retries stay safe.

// AddTag returns the tag set with tag added. The second return reports
// whether the set changed.
func AddTag(tags []string, tag string) ([]string, bool) {
	if tag == "" {
		return tags, false
	}
	for _, t := range tags {
		if t == tag {
			return tags, false
		}
	}
	return append(tags, tag), true
}

// RemoveTag returns the tag set with tag removed. The second return
// reports whether the set changed.
func RemoveTag(tags []string, tag string) ([]string, bool) {
	for i, t := range tags {
		if t == tag {
			out := make([]string, 0, len(tags)-1)
			out = append(out, tags[:i]...)
			out = append(out, tags[i+1:]...)
			return out, true
		}
	}
	return tags, false
}

// HasTag reports whether tag is present in the set.
func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
