package storageopt

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint 返回查询语句的指纹。
// 大小写与连续空白不影响结果，用于聚合同一语句的慢查询。
func Fingerprint(query string) uint64 {
	return xxhash.Sum64String(NormalizeQuery(query))
}

// NormalizeQuery 折叠连续空白并转为小写。
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	space := false
	for _, r := range strings.TrimSpace(query) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
