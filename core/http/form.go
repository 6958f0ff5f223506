package http

import "strings"

// decodeForm scans an urlencoded body once. '=' closes a key, '&' closes
// a pair, and each key and value is unescaped. A trailing pair without
// '&' is stored after the scan, including one with an empty value.
func decodeForm(body string, form map[string]string) {
	var key string
	pending := false
	j := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '=':
			if !pending {
				key = unescapeForm(body[j:i])
				pending = true
				j = i + 1
			}
		case '&':
			if pending {
				form[key] = unescapeForm(body[j:i])
			}
			pending = false
			j = i + 1
		}
	}
	if pending {
		form[key] = unescapeForm(body[j:])
	}
}

// unescapeForm turns '+' into a space and %XX into its byte.
// Malformed escapes are kept literally.
func unescapeForm(s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				b.WriteByte(hexValue(s[i+1])<<4 | hexValue(s[i+2]))
				i += 2
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decodeFormLegacy reproduces the historical in-place decoder: '+' becomes
// a space and the two characters after '%' are overwritten with the
// decimal digits of the escaped value (tens, then units), leaving '%' in
// place. Values of 100 or more do not fit two digits and come out as
// other characters. Only a trailing pair whose key was not stored
// earlier is captured after the scan. It returns the rewritten body.
func decodeFormLegacy(body string, form map[string]string) string {
	b := []byte(body)
	var key string
	i, j := 0, 0
	for ; i < len(b); i++ {
		switch b[i] {
		case '=':
			key = string(b[j:i])
			j = i + 1
		case '+':
			b[i] = ' '
		case '%':
			if i+2 >= len(b) {
				continue
			}
			num := int(hexValue(b[i+1]))*16 + int(hexValue(b[i+2]))
			b[i+2] = byte(num%10 + '0')
			b[i+1] = byte(num/10 + '0')
			i += 2
		case '&':
			form[key] = string(b[j:i])
			j = i + 1
		}
	}
	if _, ok := form[key]; !ok && j < i {
		form[key] = string(b[j:i])
	}
	return string(b)
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// hexValue returns the value of a hex digit, 0 for anything else
func hexValue(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
