package poll

// HasChanged reports whether current differs from the last announced label.
// A nil last means nothing has been announced yet, so any label counts.
func HasChanged(current string, last *string) bool {
	if last == nil {
		return true
	}
	return current != *last
}
