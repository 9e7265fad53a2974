package utils

// StringFromPtr dereferences a nullable database string, mapping nil to
// the empty string.
func StringFromPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
