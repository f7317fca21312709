// Package counsel builds counseling prompts and turns completions into replies
// for the disguised support channel.
package counsel

import (
	"golang.org/x/text/language"
)

// Supported reply languages. Anything else resolves to English.
var (
	English = language.English
	Chinese = language.Chinese
)

var languageMatcher = language.NewMatcher([]language.Tag{English, Chinese})

// ResolveLanguage maps a client language selector to a supported tag.
func ResolveLanguage(selector string) language.Tag {
	if selector == "" {
		return English
	}
	tags, _, err := language.ParseAcceptLanguage(selector)
	if err != nil || len(tags) == 0 {
		return English
	}
	_, idx, conf := languageMatcher.Match(tags...)
	if conf == language.No {
		return English
	}
	if idx == 1 {
		return Chinese
	}
	return English
}

const englishDirective = `you are a supportive school counselor chatting with a student through a hidden channel.
rules:
- reply in at most two sentences.
- write in lower-case with a casual tone, like texting a friend.
- be empathetic but casual, never clinical or preachy.
strategy:
- first validate how the student feels.
- then ask one open, investigative question to learn more about what is going on.`

const chineseDirective = `你是一位支持学生的学校辅导员，正在通过一个隐藏频道和学生聊天。
规则：
- 每次回复最多两句话。
- 语气轻松随意，像朋友之间发消息一样。
- 要有同理心但保持随意，不要说教，也不要像在看病。
策略：
- 先认可学生的感受。
- 然后提出一个开放式的问题，进一步了解发生了什么。
请用中文回复。`

// Directive returns the fixed persona and strategy text for a language.
func Directive(tag language.Tag) string {
	if tag == Chinese {
		return chineseDirective
	}
	return englishDirective
}
