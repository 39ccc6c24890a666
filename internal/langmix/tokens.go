package langmix

// Closed-class token lists for the supported locales. The Malay lists lean on
// particles and discourse markers because those survive even heavy
// code-switching ("bahasa rojak"); the English lists include Malaysian English
// variants for the same reason.

var malayHighConfidence = makeSet(
	"aku", "awak", "kau", "engkau", "kita", "kami", "saya", "anda",
	"lah", "kan", "kah", "pun", "je", "la", "kot", "ke",
	"tak", "tidak", "jangan", "jadi", "boleh", "mau", "mahu",
	"macam", "mcm", "rasa", "sangat", "sebab", "kenapa", "kerana",
	"dengan", "untuk", "dari", "dalam", "pada", "akan", "sudah", "dah",
	"belum", "sedang", "tengah", "lagi", "juga", "pula", "sahaja", "saja",
	"yang", "ini", "itu", "tu", "ni", "sini", "situ", "sana",
	"ada", "tiada", "banyak", "sikit", "semua", "setiap", "beberapa",
	"betul", "salah", "baik", "buruk", "bagus", "teruk", "cantik",
	"hodoh", "besar", "kecil", "tinggi", "rendah", "jauh", "dekat",
	"cepat", "lambat", "panas", "sejuk", "dingin", "basah", "kering",
)

var malayDiscourseMarkers = makeSet(
	"lah", "kan", "kah", "pun", "je", "la", "kot", "ke", "ape", "apa",
	"eh", "ah", "oh", "weh", "woi", "ish", "aduh", "alamak", "aiyah",
	"haiya", "aiyo", "walao", "waleh", "mana", "macamana", "camna",
	"kenapa", "bila", "siapa", "berapa", "bagaimana",
)

var malayCommon = makeSet(
	"aku", "anda", "awak", "ayah", "bang", "banyak", "belum", "betul",
	"boleh", "dah", "dengan", "dia", "esok", "faham", "hai", "harap",
	"ish", "iya", "jadi", "jangan", "jauh", "jom", "ingat", "je",
	"juga", "kah", "kak", "kami", "kamu", "kan", "kau", "ke", "kenapa",
	"kerana", "kita", "kot", "lah", "lagi", "la", "maaf", "macam",
	"malam", "mana", "mau", "mahu", "mcm", "mereka", "nanti", "ok",
	"okay", "perlu", "pun", "rasa", "sahaja", "saya", "sayang", "sebab",
	"sangat", "selalu", "tak", "tidak", "tolong", "woi", "weh", "ya",
	"yang", "benda", "perkara", "masa", "waktu", "hari", "minggu",
	"bulan", "tahun", "tempat", "rumah", "sekolah", "kerja", "main",
	"makan", "minum", "tidur", "bangun", "pergi", "balik", "datang",
	"sampai", "tiba", "start", "mula", "habis", "selesai", "tamat",
)

var malayPrefixes = []string{
	"ber", "ter", "se", "ke", "mem", "men", "meng", "meny",
	"pem", "pen", "peng", "peny", "per", "memper", "aku", "ku",
}

var malaySuffixes = []string{
	"apa", "ape", "kan", "kah", "ke", "nya", "pun", "saja", "sahaja",
	"je", "nye", "tau", "ni", "lah", "ini", "itu", "tu", "mu", "ku",
}

var malayShortParticles = makeSet("lah", "kan", "kah", "pun", "je", "la", "kot", "ke")

var malayInterjections = makeSet("ya", "ah", "eh", "oh")

var malaysianEnglish = makeSet(
	"lah", "lor", "meh", "wor", "leh", "mah", "geh", "hah", "hor",
	"can", "cannot", "kenot", "liddat", "lidat", "like", "that",
	"wat", "what", "how", "where", "when", "why", "which", "who",
	"one", "wan", "want", "dont", "wont",
	"sure", "confirm", "steady", "shiok", "power", "best", "nice",
	"very", "super", "damn", "quite", "abit", "a", "bit",
	"already", "oredi", "still", "yet", "never", "also", "oso",
	"go", "come", "see", "look", "hear", "say", "tell", "ask",
	"give", "take", "put", "get", "have", "got", "make", "do",
)

var englishCommon = makeSet(
	"i", "me", "you", "we", "they", "he", "she", "it", "my", "your",
	"our", "their", "his", "her", "its", "this", "that", "these", "those",
	"hey", "hello", "hi", "bye", "goodbye", "thanks", "thank", "please",
	"sorry", "excuse", "welcome", "yes", "no", "yeah", "yep", "nope",
	"i'm", "i'll", "i'd", "i've", "you're", "you'll", "you'd", "you've",
	"we're", "we'll", "we'd", "we've", "they're", "they'll", "they'd",
	"don't", "won't", "can't", "couldn't", "shouldn't", "wouldn't",
	"isn't", "aren't", "wasn't", "weren't", "hasn't", "haven't", "hadn't",
	"really", "very", "quite", "pretty", "super", "so", "too", "enough",
	"maybe", "perhaps", "probably", "possibly", "definitely", "certainly",
	"just", "only", "even", "still", "already", "yet", "again", "also",
	"like", "love", "hate", "enjoy", "prefer", "want", "need", "wish",
	"should", "could", "would", "might", "must", "have", "had", "has",
	"feel", "think", "know", "believe", "understand", "remember", "forget",
	"help", "support", "assist", "guide", "teach", "learn", "study",
	"okay", "ok", "alright", "fine", "sure", "right", "correct", "wrong",
	"good", "great", "awesome", "amazing", "bad", "terrible", "awful",
	"safe", "dangerous", "careful", "worry", "concern", "care", "protect",
	"together", "alone", "with", "without", "around", "near", "far", "close",
)

var englishPrefixes = []string{"re", "un", "dis", "pre", "pro", "con", "inter", "over", "under"}

var englishSuffixes = []string{
	"ing", "ed", "er", "ers", "est", "ly", "tion", "sion",
	"ment", "ness", "able", "ible", "less",
}

var englishContractions = []string{"n't", "'re", "'ll", "'ve", "'d", "'m", "'s"}

var functionWords = makeSet(
	"i", "you", "we", "they", "he", "she", "it", "my", "your", "our", "their",
	"this", "that", "these", "those", "a", "an", "the",
	"aku", "kau", "dia", "kita", "kami", "mereka", "saya", "awak", "anda",
	"ini", "itu", "tu", "ni",
)

func makeSet(words ...string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}
