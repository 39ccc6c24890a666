package langmix

import "testing"

func TestDetectPureChinese(t *testing.T) {
	p := Detect("这是中文")
	if p.ZH != 100 || p.EN != 0 || p.MS != 0 {
		t.Fatalf("expected zh=100, got %+v", p)
	}
}

func TestDetectMalayDominant(t *testing.T) {
	p := Detect("Saya suka awak")
	if p.MS <= p.EN || p.MS <= p.ZH {
		t.Fatalf("expected ms-dominant mix, got %+v", p)
	}
}

func TestDetectRojakMixesBothLanguages(t *testing.T) {
	p := Detect("I love you lah")
	if p.MS == 0 || p.EN == 0 {
		t.Fatalf("expected both ms and en present, got %+v", p)
	}
	if p.MS >= p.EN {
		t.Fatalf("expected en-weighted mix, got %+v", p)
	}
}

func TestDetectSumsToHundred(t *testing.T) {
	inputs := []string{
		"",
		"hello there my friend",
		"saya nak pergi sekolah esok",
		"这是中文 but also english lah",
		"12345 !!!",
	}
	for _, in := range inputs {
		p := Detect(in)
		if sum := p.EN + p.MS + p.ZH; sum != 100 {
			t.Errorf("Detect(%q) sums to %d, want 100 (%+v)", in, sum, p)
		}
	}
}

func TestDetectNoSignalDefaultsEnglish(t *testing.T) {
	for _, in := range []string{"", "   ", "12345", "!!!"} {
		p := Detect(in)
		if p.EN != 100 {
			t.Errorf("Detect(%q) = %+v, want en=100", in, p)
		}
	}
}

func TestDetectIsPure(t *testing.T) {
	const text = "Eh kenapa you macam tu, I just want to help"
	first := Detect(text)
	for i := 0; i < 5; i++ {
		if got := Detect(text); got != first {
			t.Fatalf("Detect not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestDetectLocale(t *testing.T) {
	cases := []struct {
		text     string
		fallback string
		want     string
	}{
		{"这是中文，你好吗", "", "zh"},
		{"Saya suka awak sangat", "", "ms"},
		{"I really love spending time with you", "", "en"},
		{"Jom kita pergi, I will drive okay", "", "ms"}, // rojak leans ms
		{"", "zh", "zh"},
		{"", "zh-Hans", "zh"},
		{"", "id", "ms"},
		{"", "", "en"},
		{"12345", "ms", "ms"},
	}
	for _, tc := range cases {
		if got := DetectLocale(tc.text, tc.fallback); got != tc.want {
			t.Errorf("DetectLocale(%q, %q) = %q, want %q", tc.text, tc.fallback, got, tc.want)
		}
	}
}

func TestNormalizeLocale(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"en", "en", true},
		{"EN-us", "en", true},
		{"ms", "ms", true},
		{"id", "ms", true},
		{"malay", "ms", true},
		{"zh-CN", "zh", true},
		{"cmn", "zh", true},
		{"  zh  ", "zh", true},
		{"fr", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeLocale(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeLocale(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
