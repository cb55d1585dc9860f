package response

// ExtractJSON returns the first balanced JSON object or array embedded in s,
// starting the search at or after from. Braces inside quoted strings are
// ignored. ok is false when no balanced value exists.
func ExtractJSON(s string, from int) (payload string, next int, ok bool) {
	for start := from; start < len(s); start++ {
		open := s[start]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchBrackets(s, start); end > 0 {
			return s[start:end], start + 1, true
		}
	}
	return "", len(s), false
}

// matchBrackets returns the index after the bracket closing s[start], or -1.
func matchBrackets(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// xmlStart returns the offset of the first '<' that opens an element or an
// XML declaration, or -1.
func xmlStart(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '<' {
			continue
		}
		c := s[i+1]
		if c == '?' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			return i
		}
	}
	return -1
}
