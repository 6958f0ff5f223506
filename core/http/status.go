package http

// statusText returns the reason phrase for the codes this server emits
func statusText(code int) (string, bool) {
	switch code {
	case 200:
		return "OK", true
	case 400:
		return "Bad Request", true
	case 403:
		return "Forbidden", true
	case 404:
		return "Not Found", true
	default:
		return "", false
	}
}

// appendInt appends the decimal form of a non-negative integer without
// going through strconv's allocation paths
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	digits := 0
	for tmp := i; tmp > 0; tmp /= 10 {
		digits++
	}

	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}
	return b
}
