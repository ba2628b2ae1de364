package qrz

import "strings"

// parseKV decodes the service's `&`-joined `key=value` response text. Values
// may themselves contain `=` (ADIF payloads do), so only the first separator
// splits.
func parseKV(body string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(body, "&") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		if key == "" {
			continue
		}
		value := ""
		if len(parts) == 2 {
			value = parts[1]
		}
		out[key] = value
	}
	return out
}
