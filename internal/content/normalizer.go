package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mitchellh/go-wordwrap"
	"go.uber.org/zap"

	"barid/backend/internal/config"
)

const (
	// DefaultWordWrap HTML 转纯文本时的折行宽度
	DefaultWordWrap = 130
	// DefaultMaxConversionSize 转换前 HTML 的最大字节数 (900 KiB)
	DefaultMaxConversionSize = 900 * 1024

	preOpen  = `<pre style="font-family: sans-serif; white-space: pre-wrap;">`
	preClose = `</pre>`
)

// Normalizer 负责邮件正文的清洗和 HTML/纯文本互相补全
//
// Normalizer 不做任何 I/O，可以被多个 goroutine 共享。
type Normalizer struct {
	policy  *bluemonday.Policy
	wrap    uint
	maxConv int
	logger  *zap.Logger
}

// NewNormalizer 创建正文规范化器
func NewNormalizer(cfg config.ContentConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	wrap := cfg.WordWrap
	if wrap <= 0 {
		wrap = DefaultWordWrap
	}
	maxConv := cfg.MaxConversionSize
	if maxConv <= 0 {
		maxConv = DefaultMaxConversionSize
	}
	return &Normalizer{
		policy:  emailPolicy(),
		wrap:    uint(wrap),
		maxConv: maxConv,
		logger:  logger.Named("content"),
	}
}

// emailPolicy 在 UGC 策略基础上放行邮件排版常用的元素、属性和内联样式
//
// 只移除 script、style、iframe、object、embed 等危险元素，on* 事件属性，
// 以及 javascript: 等非白名单协议的链接。
func emailPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AllowDataURIImages()
	p.AllowURLSchemes("cid", "tel")

	// class、id、title、dir、lang 全局放行
	p.AllowStyling()
	p.AllowStyles(emailStyleProperties...).MatchingHandler(safeStyleValue).Globally()

	p.AllowAttrs("align", "valign", "bgcolor", "background", "border", "cellpadding", "cellspacing",
		"width", "height", "colspan", "rowspan", "nowrap").Globally()
	p.AllowAttrs("color", "face", "size").OnElements("font")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_(blank|self|parent|top)$`)).OnElements("a")

	p.AllowElements("center", "font", "main", "nav", "header", "footer", "article", "aside",
		"section", "address", "big", "small", "u", "s", "strike", "mark", "time")
	p.AllowNoAttrs().OnElements("form", "label", "input", "button", "select", "option",
		"optgroup", "textarea", "fieldset", "legend")

	p.AllowAttrs("action").Matching(httpURL).OnElements("form")
	p.AllowAttrs("method").Matching(regexp.MustCompile(`(?i)^(get|post)$`)).OnElements("form")
	p.AllowAttrs("for").OnElements("label")
	p.AllowAttrs("type", "name", "value", "placeholder", "checked", "disabled", "readonly",
		"maxlength", "size").OnElements("input")
	p.AllowAttrs("type", "name", "value", "disabled").OnElements("button")
	p.AllowAttrs("name", "multiple", "disabled").OnElements("select")
	p.AllowAttrs("value", "selected", "disabled").OnElements("option")
	p.AllowAttrs("label").OnElements("option", "optgroup")
	p.AllowAttrs("name", "rows", "cols", "placeholder", "readonly").OnElements("textarea")
	return p
}

// httpURL 表单提交地址只接受 http(s)
var httpURL = regexp.MustCompile(`(?i)^https?://`)

// emailStyleProperties 内联样式中放行的 CSS 属性
//
// 带浏览器前缀（-webkit-、mso- 等）的属性在匹配前会被去掉前缀。
var emailStyleProperties = []string{
	"background", "background-color", "background-image", "background-position", "background-repeat", "background-size",
	"border", "border-top", "border-right", "border-bottom", "border-left",
	"border-color", "border-style", "border-width", "border-radius", "border-collapse", "border-spacing",
	"border-top-color", "border-right-color", "border-bottom-color", "border-left-color",
	"border-top-style", "border-right-style", "border-bottom-style", "border-left-style",
	"border-top-width", "border-right-width", "border-bottom-width", "border-left-width",
	"border-top-left-radius", "border-top-right-radius", "border-bottom-left-radius", "border-bottom-right-radius",
	"margin", "margin-top", "margin-right", "margin-bottom", "margin-left",
	"padding", "padding-top", "padding-right", "padding-bottom", "padding-left",
	"width", "min-width", "max-width", "height", "min-height", "max-height",
	"color", "opacity", "font", "font-family", "font-size", "font-style", "font-variant", "font-weight",
	"line-height", "letter-spacing", "word-spacing", "white-space", "word-break", "word-wrap", "overflow-wrap",
	"text-align", "text-decoration", "text-indent", "text-overflow", "text-shadow", "text-transform",
	"vertical-align", "direction", "display", "visibility", "overflow", "overflow-x", "overflow-y",
	"float", "clear", "box-sizing", "box-shadow", "outline", "cursor",
	"list-style", "list-style-type", "list-style-position", "table-layout", "caption-side", "empty-cells",
	"line-height-rule", "hide", "text-size-adjust", "table-lspace", "table-rspace",
}

// unsafeStyleTokens 出现在样式值中即拒绝整条声明
var unsafeStyleTokens = []string{"javascript:", "vbscript:", "expression(", "behavior:", "-moz-binding", "@import"}

// safeStyleValue 拒绝可执行脚本的样式值，url() 只允许 http(s)、cid 与 data:image
//
// 传入的值已被转为小写。
func safeStyleValue(v string) bool {
	compact := strings.Join(strings.Fields(v), "")
	for _, tok := range unsafeStyleTokens {
		if strings.Contains(compact, tok) {
			return false
		}
	}
	rest := compact
	for {
		i := strings.Index(rest, "url(")
		if i < 0 {
			return true
		}
		rest = rest[i+len("url("):]
		target := strings.TrimLeft(rest, `'"`)
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") &&
			!strings.HasPrefix(target, "cid:") && !strings.HasPrefix(target, "data:image/") {
			return false
		}
	}
}

// Normalize 清洗 HTML 并补全缺失的一侧
//
// 参数:
//   - htmlBody: 原始 HTML 正文，nil 表示不存在
//   - textBody: 原始纯文本正文，nil 表示不存在
//
// 返回值:
//   - 规范化后的 HTML 与纯文本，任意一侧都可能为 nil
func (n *Normalizer) Normalize(htmlBody, textBody *string) (*string, *string) {
	switch {
	case htmlBody != nil && textBody != nil:
		clean := n.Sanitize(*htmlBody)
		text := *textBody
		return &clean, &text

	case htmlBody != nil:
		clean := n.Sanitize(*htmlBody)
		return &clean, n.deriveText(clean)

	case textBody != nil:
		text := *textBody
		if strings.TrimSpace(text) == "" {
			return nil, &text
		}
		derived := TextToHTML(text)
		return &derived, &text
	}
	return nil, nil
}

// Sanitize 移除 HTML 中的危险标签和属性
func (n *Normalizer) Sanitize(s string) string {
	return n.policy.Sanitize(s)
}

// deriveText 把已清洗的 HTML 转换为折行后的纯文本，失败时返回 nil
func (n *Normalizer) deriveText(clean string) (out *string) {
	source := truncateUTF8(clean, n.maxConv)
	if len(source) < len(clean) {
		n.logger.Debug("html truncated before text conversion",
			zap.Int("original_bytes", len(clean)),
			zap.Int("limit_bytes", n.maxConv),
		)
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("html to text conversion panicked", zap.String("panic", fmt.Sprint(r)))
			out = nil
		}
	}()

	text, err := html2text.FromString(source, html2text.Options{})
	if err != nil {
		n.logger.Warn("html to text conversion failed", zap.Error(err))
		return nil
	}
	text = wordwrap.WrapString(text, n.wrap)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &text
}

// TextToHTML 将纯文本包裹在保留空白的 pre 块中
func TextToHTML(text string) string {
	return preOpen + html.EscapeString(text) + preClose
}

// truncateUTF8 在不超过 limit 字节的前提下截断到完整字符边界
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
