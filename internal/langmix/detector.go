// Package langmix scores player text against the supported locales (English,
// Malay, Chinese) and reports both a percentage mix and a single best-guess
// locale. It is a pure lexical heuristic: no network calls, no per-session
// state, identical input always yields identical output.
package langmix

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	LocaleEnglish = "en"
	LocaleMalay   = "ms"
	LocaleChinese = "zh"
)

// Proportions is the language mix of a piece of text, as integer percentages
// summing to exactly 100. Text with no detectable signal is reported as 100%
// English rather than all zeros.
type Proportions struct {
	EN int `json:"en"`
	MS int `json:"ms"`
	ZH int `json:"zh"`
}

var (
	wordRe      = regexp.MustCompile(`[\p{L}']+`)
	hanRe       = regexp.MustCompile(`^[\x{3400}-\x{9FFF}]+$`)
	latinRe     = regexp.MustCompile(`^[a-z']+$`)
	asciiWordRe = regexp.MustCompile(`^[a-z]+$`)

	malayNasalVowelRe = regexp.MustCompile(`(ng|ny)[aeiou]`)
	malayParticleRe   = regexp.MustCompile(`(lah|kah|kan|nya|pun)$`)
	malayPronounRe    = regexp.MustCompile(`^(aku|kau|kita|kami|awak|anda|engkau|korang|saya)$`)
	doubleVowelRe     = regexp.MustCompile(`[aeiou]{2}`)
	englishOnsetRe    = regexp.MustCompile(`^(th|sh|ch|wh|ph|gh)`)
	consonantRunRe    = regexp.MustCompile(`[bcdfghjklmnpqrstvwxyz]{2,}`)
)

// NormalizeLocale maps arbitrary locale strings ("en-US", "zh-Hans",
// "id", ...) onto a supported locale. ok is false for unrecognized input.
func NormalizeLocale(raw string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch trimmed {
	case "":
		return "", false
	case LocaleEnglish, LocaleMalay, LocaleChinese:
		return trimmed, true
	}
	switch {
	case strings.HasPrefix(trimmed, "zh"), strings.HasPrefix(trimmed, "cmn"):
		return LocaleChinese, true
	case strings.HasPrefix(trimmed, "ms"), strings.HasPrefix(trimmed, "id"), strings.HasPrefix(trimmed, "mal"):
		return LocaleMalay, true
	case strings.HasPrefix(trimmed, "en"):
		return LocaleEnglish, true
	}
	return "", false
}

// Detect returns the integer percentage mix for text.
func Detect(text string) Proportions {
	en, ms, zh := rawScores(text)
	return toPercentages(en, ms, zh)
}

// DetectLocale returns the single best-guess locale for text. When the text
// carries no usable signal the fallback locale (typically the session's
// previously established one) wins, defaulting to English.
//
// The precedence is tuned for Malaysian code-switching: a meaningful Malay
// presence alongside English reads as Malay-based rojak, a clear majority
// (>60%) wins outright, and mixed text containing Chinese prefers the
// stronger romanized language.
func DetectLocale(text, fallback string) string {
	en, ms, zh := rawScores(text)
	total := en + ms + zh
	if total <= 0 {
		if loc, ok := NormalizeLocale(fallback); ok {
			return loc
		}
		return LocaleEnglish
	}

	pctEN := en / total * 100
	pctMS := ms / total * 100
	pctZH := zh / total * 100

	if pctMS >= 20 && pctEN >= 15 {
		return LocaleMalay
	}
	switch {
	case pctMS > 60:
		return LocaleMalay
	case pctEN > 60:
		return LocaleEnglish
	case pctZH > 60:
		return LocaleChinese
	}
	if pctZH > 0 {
		switch {
		case pctMS > pctEN:
			return LocaleMalay
		case pctEN > pctMS:
			return LocaleEnglish
		default:
			return LocaleChinese
		}
	}

	// Argmax with ms > en > zh precedence on ties.
	best, bestScore := LocaleMalay, ms
	if en > bestScore {
		best, bestScore = LocaleEnglish, en
	}
	if zh > bestScore {
		best = LocaleChinese
	}
	return best
}

func rawScores(text string) (en, ms, zh float64) {
	content := strings.TrimSpace(text)
	if content == "" {
		return 0, 0, 0
	}

	for _, word := range wordRe.FindAllString(strings.ToLower(content), -1) {
		if word == "" {
			continue
		}

		if hanRe.MatchString(word) {
			// Chinese characters carry more weight per glyph.
			zh += float64(utf8.RuneCountInString(word)) * 1.5
			continue
		}
		if !latinRe.MatchString(word) {
			continue
		}

		msScore := scoreMalayToken(word)
		enScore := scoreEnglishToken(word)

		highConfidence := malayHighConfidence[word] || englishCommon[word] || malaysianEnglish[word]
		weight := wordWeight(word, malayDiscourseMarkers[word], highConfidence)

		switch {
		case msScore == 0 && enScore == 0:
			// Unknown words lean English, conservatively.
			en += 0.3 * weight
		case msScore > enScore && msScore >= 0.8:
			ms += msScore * weight
		case enScore > msScore && enScore >= 0.8:
			en += enScore * weight
		default:
			// Ambiguous: split proportionally.
			if total := msScore + enScore; total > 0 {
				ms += msScore / total * weight
				en += enScore / total * weight
			}
		}
	}
	return en, ms, zh
}

func scoreMalayToken(token string) float64 {
	score, confidence := 0.0, 1.0

	switch {
	case malayHighConfidence[token]:
		score += 1.5
		confidence = 1.2
	case malayCommon[token]:
		score += 1.0
	}

	if malayDiscourseMarkers[token] {
		score += 1.3
		confidence = 1.3
	}

	if utf8.RuneCountInString(token) <= 3 {
		switch {
		case malayShortParticles[token]:
			score += 1.2
			confidence = 1.4
		case malayInterjections[token]:
			score += 0.6
		}
	}

	if hasAffix(token, malaySuffixes, strings.HasSuffix) {
		score += 0.4
	}
	if hasAffix(token, malayPrefixes, strings.HasPrefix) {
		score += 0.4
	}
	if malayNasalVowelRe.MatchString(token) ||
		malayParticleRe.MatchString(token) ||
		malayPronounRe.MatchString(token) {
		score += 0.35
	}
	if strings.Contains(token, "ng") || strings.Contains(token, "ny") ||
		strings.Contains(token, "kh") || strings.Contains(token, "sy") {
		score += 0.3
	}
	if doubleVowelRe.MatchString(token) {
		score += 0.2
	}

	return min(score*confidence, 2.0)
}

func scoreEnglishToken(token string) float64 {
	score, confidence := 0.0, 1.0

	switch {
	case malaysianEnglish[token]:
		score += 1.2
		confidence = 1.3
	case englishCommon[token]:
		score += 1.0
	}

	for _, suffix := range englishContractions {
		if strings.HasSuffix(token, suffix) {
			score += 0.5
			confidence = 1.2
			break
		}
	}

	if hasAffix(token, englishSuffixes, strings.HasSuffix) {
		score += 0.4
	}
	if hasAffix(token, englishPrefixes, strings.HasPrefix) {
		score += 0.35
	}
	if asciiWordRe.MatchString(token) && len(token) > 2 {
		score += 0.3
	}
	if strings.Contains(token, "'") {
		score += 0.4
	}
	if englishOnsetRe.MatchString(token) {
		score += 0.3
	}
	if consonantRunRe.MatchString(token) && len(token) > 3 {
		score += 0.2
	}

	return min(score*confidence, 1.8)
}

// wordWeight biases counting toward discourse markers and function words,
// which anchor the base language of code-switched sentences.
func wordWeight(word string, isDiscourseMarker, isHighConfidence bool) float64 {
	switch {
	case isDiscourseMarker:
		return 2.0
	case isHighConfidence:
		return 1.5
	case functionWords[word]:
		return 1.3
	case len(word) <= 3 && asciiWordRe.MatchString(word):
		return 1.2
	}
	return 1.0
}

func hasAffix(token string, affixes []string, match func(string, string) bool) bool {
	for _, affix := range affixes {
		if match(token, affix) && len(token) > len(affix)+1 {
			return true
		}
	}
	return false
}

// toPercentages rounds the raw scores into integers summing to exactly 100,
// using largest-remainder allocation. Zero signal becomes 100% English.
func toPercentages(en, ms, zh float64) Proportions {
	total := en + ms + zh
	if total <= 0 {
		return Proportions{EN: 100}
	}

	type share struct {
		out  *int
		frac float64
	}
	var p Proportions
	shares := []share{
		{&p.EN, en / total * 100},
		{&p.MS, ms / total * 100},
		{&p.ZH, zh / total * 100},
	}

	assigned := 0
	for i := range shares {
		whole := int(shares[i].frac)
		*shares[i].out = whole
		shares[i].frac -= float64(whole)
		assigned += whole
	}
	for assigned < 100 {
		best := 0
		for i := 1; i < len(shares); i++ {
			if shares[i].frac > shares[best].frac {
				best = i
			}
		}
		*shares[best].out++
		shares[best].frac = -1
		assigned++
	}
	return p
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
