package persistence

import (
	"encoding/json"
	"strings"
)

// MaskSecret 只保留凭证的前 4 位与后 4 位；8 位及以下的凭证完全隐藏。
func MaskSecret(secret string) string {
	switch n := len(secret); {
	case n == 0:
		return ""
	case n > 8:
		return secret[:4] + "..." + secret[n-4:]
	default:
		return "******"
	}
}

// MaskJSON 将 JSON 文档中字段名包含 key 或 token 的值（含其下的嵌套值）替换为掩码。
// 非 JSON 内容原样返回。
func MaskJSON(data []byte) string {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return string(data)
	}
	out, err := json.Marshal(maskValue(doc, false))
	if err != nil {
		return string(data)
	}
	return string(out)
}

// MaskAll 将 JSON 文档中的所有字符串值替换为掩码。
func MaskAll(data []byte) string {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return MaskSecret(string(data))
	}
	out, err := json.Marshal(maskValue(doc, true))
	if err != nil {
		return MaskSecret(string(data))
	}
	return string(out)
}

func maskValue(v interface{}, all bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			// 敏感字段下的嵌套值全部掩码，例如 {"apiKeys":{"claude":"..."}}
			sensitive := all || isSensitiveField(k)
			if s, ok := val.(string); ok && sensitive {
				t[k] = MaskSecret(s)
				continue
			}
			t[k] = maskValue(val, sensitive)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = maskValue(t[i], all)
		}
		return t
	case string:
		if all {
			return MaskSecret(t)
		}
		return t
	default:
		return v
	}
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "key") || strings.Contains(lower, "token")
}
