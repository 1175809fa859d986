package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/textutil"
)

// keySep separates the digest fields so that boundary-shifted inputs
// cannot collide.
const keySep = "\x1f"

// CacheKey digests (normalized query, canonical context, canonical
// options) into 32 lowercase hex characters. Requests differing only in
// whitespace or case around the query map to the same key.
func CacheKey(req mimir.Request) string {
	h := md5.New()
	h.Write([]byte(textutil.Normalize(req.Query)))
	h.Write([]byte(keySep))
	h.Write(canonicalJSON(req.Context))
	h.Write([]byte(keySep))
	h.Write(canonicalJSON(optionsMap(req.Options)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders a map with lexicographically sorted keys.
// encoding/json already sorts map keys at every nesting level.
func canonicalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// optionsMap flattens the options that affect the result payload. The
// streaming flag and cache flag change delivery, not content, so they
// stay out of the key.
func optionsMap(o mimir.Options) map[string]any {
	m := map[string]any{}
	if o.Strategy != "" {
		m["strategy"] = string(o.Strategy)
	}
	if o.EnableHighlighting {
		m["highlight"] = true
	}
	if o.Limit > 0 {
		m["limit"] = o.Limit
	}
	if o.Offset > 0 {
		m["offset"] = o.Offset
	}
	return m
}
