package transcribe

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
)

type script int

const (
	scriptSpaced script = iota
	scriptCJK
	scriptArabic
	scriptDevanagari
)

type marks struct {
	period   string
	question string
}

var scriptMarks = map[script]marks{
	scriptSpaced:     {".", "?"},
	scriptCJK:        {"。", "？"},
	scriptArabic:     {".", "؟"},
	scriptDevanagari: {"।", "?"},
}

const terminals = ".?!…。？！؟।"

// questionCues lists, per base language, words that open a question and
// particles or endings that close one.
var questionCues = map[string]struct {
	leading  []string
	trailing []string
}{
	"en": {leading: []string{"who", "whom", "whose", "what", "what's", "when", "where", "where's", "why", "how", "how's", "which",
		"is", "are", "am", "was", "were", "do", "does", "did", "can", "could", "will", "would", "should", "shall", "may", "might",
		"have", "has", "had", "isn't", "aren't", "don't", "doesn't", "didn't", "won't", "can't", "shouldn't", "wouldn't"},
		trailing: []string{"right", "isn't it", "aren't i", "don't you", "okay"}},
	"es": {leading: []string{"qué", "quién", "quiénes", "cómo", "cuándo", "dónde", "por qué", "cuál", "cuáles", "cuánto", "¿"}},
	"fr": {leading: []string{"qui", "que", "quoi", "quand", "où", "pourquoi", "comment", "quel", "quelle", "quels", "quelles", "est-ce"},
		trailing: []string{"n'est-ce pas"}},
	"de": {leading: []string{"wer", "was", "wann", "wo", "warum", "wie", "welche", "welcher", "welches", "wieso", "weshalb", "woher", "wohin"}},
	"pt": {leading: []string{"quem", "quando", "onde", "por que", "como", "qual", "quais", "quanto"},
		trailing: []string{"não é"}},
	"it": {leading: []string{"chi", "che cosa", "cosa", "quando", "dove", "perché", "come", "quale", "quali", "quanto"}},
	"nl": {leading: []string{"wie", "wat", "wanneer", "waar", "waarom", "hoe", "welke", "welk"}},
	"sv": {leading: []string{"vem", "vad", "när", "var", "varför", "hur", "vilken", "vilket", "vilka"}},
	"nb": {leading: []string{"hvem", "hva", "når", "hvor", "hvorfor", "hvordan", "hvilken"}},
	"da": {leading: []string{"hvem", "hvad", "hvornår", "hvor", "hvorfor", "hvordan", "hvilken"}},
	"pl": {leading: []string{"kto", "co", "kiedy", "gdzie", "dlaczego", "jak", "czy", "który", "która", "ile"}},
	"tr": {leading: []string{"ne", "kim", "nerede", "neden", "nasıl", "hangi", "niçin"},
		trailing: []string{"mi", "mı", "mu", "mü", "misin", "mısın", "musun", "müsün", "mıyım", "miyim"}},
	"fi": {leading: []string{"kuka", "mikä", "mitä", "milloin", "missä", "miksi", "miten", "kuinka", "onko", "voiko"}},
	"ru": {leading: []string{"кто", "что", "когда", "где", "почему", "зачем", "как", "какой", "какая", "сколько", "разве"},
		trailing: []string{"ли"}},
	"ko": {trailing: []string{"까", "니", "나요", "가요", "죠", "냐"}},
	"ar": {leading: []string{"هل", "ماذا", "لماذا", "متى", "أين", "كيف", "من", "ما", "كم", "أي"}},
	"hi": {leading: []string{"क्या", "क्यों", "कब", "कहाँ", "कहां", "कैसे", "कौन", "कितना"},
		trailing: []string{"क्या", "ना"}},
	"zh": {trailing: []string{"吗", "嗎", "呢", "么", "麼"}},
	"ja": {trailing: []string{"か", "かな", "かしら", "の", "ですか", "ますか"}},
}

// words that mark a CJK question anywhere in the sentence
var cjkInterrogatives = map[string][]string{
	"zh": {"什么", "什麼", "为什么", "為什麼", "怎么", "怎麼", "谁", "誰", "哪", "几", "幾", "多少"},
	"ja": {"何", "なぜ", "どうして", "どう", "どこ", "だれ", "誰", "いつ", "どれ", "どの"},
}

// Punctuate ensures text ends with sentence-final punctuation suited to
// lang. Text that already ends in terminal punctuation is returned as is,
// apart from trimming.
func Punctuate(text string, lang language.Tag) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if last, _ := utf8.DecodeLastRuneInString(text); strings.ContainsRune(terminals, last) {
		return text
	}

	code := isoCode(lang)
	m := scriptMarks[scriptOf(code)]
	if IsQuestion(text, code) {
		return text + m.question
	}
	return text + m.period
}

// IsQuestion applies the per-language cue tables to text.
func IsQuestion(text, code string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	cues, ok := questionCues[code]
	if !ok {
		cues = questionCues["en"]
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '"'
	})
	if len(words) > 0 {
		for _, w := range cues.leading {
			if strings.Contains(w, " ") {
				if strings.HasPrefix(lower, w+" ") {
					return true
				}
			} else if strings.HasPrefix(w, "¿") {
				if strings.HasPrefix(lower, w) {
					return true
				}
			} else if words[0] == w {
				return true
			}
		}
	}

	for _, w := range cues.trailing {
		if scriptOf(code) == scriptCJK || code == "ko" {
			if strings.HasSuffix(lower, w) {
				return true
			}
			continue
		}
		if lower == w || strings.HasSuffix(lower, " "+w) || strings.HasSuffix(lower, ", "+w) {
			return true
		}
	}

	for _, w := range cjkInterrogatives[code] {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func scriptOf(code string) script {
	switch code {
	case "zh", "ja":
		return scriptCJK
	case "ar":
		return scriptArabic
	case "hi":
		return scriptDevanagari
	}
	return scriptSpaced
}
