package wxpay

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

// SignType 网关签名算法
type SignType string

const (
	SignTypeMD5        SignType = "MD5"
	SignTypeHMACSHA256 SignType = "HMAC-SHA256"
)

const signField = "sign"

// Sign 使用 MD5 计算网关签名。
func Sign(params map[string]string, key string) string {
	return SignWithType(params, key, SignTypeMD5)
}

// SignWithType 按指定算法计算网关签名：
// 剔除 sign 与空值字段，按 key 字典序拼接 k=v&...&key=<商户密钥>，摘要后转大写十六进制。
func SignWithType(params map[string]string, key string, signType SignType) string {
	payload := canonicalString(params) + "&key=" + key

	var h hash.Hash
	switch signType {
	case SignTypeHMACSHA256:
		h = hmac.New(sha256.New, []byte(key))
	default:
		h = md5.New()
	}
	h.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// Verify 校验签名，算法由参数中的 sign_type 决定（缺省 MD5），大小写不敏感。
func Verify(params map[string]string, signature string, key string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := SignWithType(params, key, ParseSignType(params["sign_type"]))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(signature))) == 1
}

// ParseSignType 解析 sign_type 字段
func ParseSignType(raw string) SignType {
	if strings.EqualFold(strings.TrimSpace(raw), string(SignTypeHMACSHA256)) {
		return SignTypeHMACSHA256
	}
	return SignTypeMD5
}

func canonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == signField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
