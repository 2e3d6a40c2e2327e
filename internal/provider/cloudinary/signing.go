package cloudinary

import (
	"crypto/sha1" //nolint:gosec // the provider's request signature is defined as SHA-1
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// sign computes the provider signature over params: keys sorted, "k=v" pairs
// joined by "&", multi-valued keys comma-joined, secret appended, SHA-1 hex.
// Callers must not include file, api_key, resource_type or cloud_name.
func sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if len(v) == 0 || (len(v) == 1 && v[0] == "") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + strings.Join(params[k], ",")
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
