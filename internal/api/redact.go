package api

import "strings"

// redactEmail masks the local part of an e-mail for logging:
// "foobar@example.com" -> "fo***@example.com". Anything that is not a
// single-@ address is fully masked.
func redactEmail(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}
