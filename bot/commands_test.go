package bot

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text string
		want command
	}{
		{"/screen https://example.com", command{name: "screen", arg: "https://example.com"}},
		{"/screenshot example.com --mobile", command{name: "screenshot", arg: "example.com", mobile: true}},
		{"/screen example.com -m --pdf", command{name: "screen", arg: "example.com", mobile: true, pdf: true}},
		{"/screen@pageshot_bot example.com", command{name: "screen", arg: "example.com"}},
		{"/SERP coffee beans", command{name: "serp", arg: "coffee beans"}},
		{"/layout", command{name: "layout"}},
		{"plain text", command{name: "plain", arg: "text"}},
		{"   ", command{}},
	}
	for _, tc := range cases {
		got := parseCommand(tc.text)
		if got != tc.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tc.text, got, tc.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://example.com", "https://example.com", false},
		{"http://example.com/path", "http://example.com/path", false},
		{"example.com", "https://example.com", false},
		{"example.com/pricing", "https://example.com/pricing", false},
		{"", "", true},
		{"https://", "", true},
	}
	for _, tc := range cases {
		got, err := normalizeURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeURL(%q) accepted, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAllowedChats(t *testing.T) {
	open := &Bot{cfg: Config{}}
	if !open.allowed(42) {
		t.Error("empty allow list must accept everyone")
	}

	restricted := &Bot{cfg: Config{AllowedChats: []int64{1, 2}}}
	if !restricted.allowed(2) {
		t.Error("listed chat rejected")
	}
	if restricted.allowed(3) {
		t.Error("unlisted chat accepted")
	}
}
