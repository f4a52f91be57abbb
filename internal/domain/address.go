package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

// RFC 5322 邮箱地址长度限制
const (
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// NormalizeAddress 去除尖括号与空白并转为小写
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(strings.TrimSpace(addr))
}

// DomainOf 返回地址中最后一个 @ 之后的域名部分，没有 @ 时返回空字符串
func DomainOf(addr string) string {
	idx := strings.LastIndex(addr, "@")
	if idx < 0 || idx == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[idx+1:])
}

// ValidateEmail 简单校验邮箱地址格式
func ValidateEmail(email string) bool {
	email = NormalizeAddress(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return false
	}
	idx := strings.LastIndex(email, "@")
	if idx <= 0 || idx > MaxLocalPartLength {
		return false
	}
	return ValidateDomain(email[idx+1:])
}

// ValidateDomain 校验域名格式
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}
	if !domainRegex.MatchString(domain) {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return false
		}
	}
	return true
}
