package wa

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

// NormalizePhone reduces any provider address to its digits: the JID
// server suffix and all punctuation are dropped. An empty result means
// the value carried no usable number.
func NormalizePhone(v string) string {
	if i := strings.IndexByte(v, '@'); i >= 0 {
		v = v[:i]
	}
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// BuildAddress turns a canonical phone into the wire address the driver
// expects. Values that already carry a server suffix pass through.
func BuildAddress(phone string) string {
	if strings.ContainsRune(phone, '@') {
		return phone
	}
	return NormalizePhone(phone) + "@c.us"
}

// ExtractProviderMessageID walks the id shapes seen across provider
// payload generations, most specific first.
func ExtractProviderMessageID(raw driver.RawMessage) string {
	if id := lookupString(raw, "id", "_serialized"); id != "" {
		return id
	}
	if id := lookupString(raw, "id", "id"); id != "" {
		return id
	}
	if id, ok := raw["id"].(string); ok && id != "" {
		return id
	}
	if id := cast.ToString(raw["messageId"]); id != "" {
		return id
	}
	if id := lookupString(raw, "key", "id"); id != "" {
		return id
	}
	return ""
}

// lookupString resolves a nested string field, tolerating both typed and
// generic map shapes.
func lookupString(raw map[string]interface{}, path ...string) string {
	cur := interface{}(raw)
	for _, key := range path {
		m, err := cast.ToStringMapE(cur)
		if err != nil {
			return ""
		}
		cur = m[key]
	}
	return cast.ToString(cur)
}

func extractTimestamp(raw driver.RawMessage) time.Time {
	secs := cast.ToInt64(raw["timestamp"])
	if secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

func extractContactName(raw driver.RawMessage) string {
	if n := lookupString(raw, "sender", "pushname"); n != "" {
		return n
	}
	if n := lookupString(raw, "sender", "name"); n != "" {
		return n
	}
	return cast.ToString(raw["notifyName"])
}

func extractReplyTo(raw driver.RawMessage) string {
	if id := cast.ToString(raw["quotedMsgId"]); id != "" {
		return id
	}
	return lookupString(raw, "quotedMsg", "id")
}

// normalizeBody produces the text stored for a message. Media without a
// caption collapses to a readable placeholder; payloads that smuggle the
// media itself into the body are never stored verbatim.
func normalizeBody(raw driver.RawMessage) string {
	kind := cast.ToString(raw["type"])
	caption := cast.ToString(raw["caption"])
	body := cast.ToString(raw["body"])

	switch kind {
	case "sticker":
		return "[sticker]"
	case "image":
		if caption != "" {
			return caption
		}
		return "[image]"
	}
	if caption != "" {
		return caption
	}
	if looksLikeBase64Image(body) {
		return "[image]"
	}
	if body == "" {
		return "[unsupported message]"
	}
	return body
}

func looksLikeBase64Image(v string) bool {
	if strings.HasPrefix(v, "data:image") {
		return true
	}
	if !strings.HasPrefix(v, "/9j/") || len(v) <= 200 {
		return false
	}
	for _, r := range v {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		switch r {
		case '+', '/', '=':
		default:
			return false
		}
	}
	return true
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
