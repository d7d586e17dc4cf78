package content

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>  Pricing — Example  </title></head>
<body>
<h1>Plans</h1>
<p>Start <strong>free</strong>, upgrade later.</p>
<script>analytics.track("view")</script>
</body>
</html>`

func TestMarkdownSnapshot(t *testing.T) {
	s := NewSnapshotter()

	md, err := s.Markdown(samplePage)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if !strings.Contains(md, "Plans") {
		t.Errorf("heading lost:\n%s", md)
	}
	if !strings.Contains(md, "**free**") {
		t.Errorf("emphasis lost:\n%s", md)
	}
	if strings.Contains(md, "analytics.track") {
		t.Errorf("script text leaked into snapshot:\n%s", md)
	}
}

func TestMarkdownStableForSamePage(t *testing.T) {
	s := NewSnapshotter()
	a, err := s.Markdown(samplePage)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	b, err := s.Markdown(samplePage)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if Hash(a) != Hash(b) {
		t.Error("same page produced different snapshot hashes")
	}
}

func TestHashEmpty(t *testing.T) {
	if Hash("") != "" {
		t.Error("empty snapshot must hash to empty string")
	}
	if len(Hash("x")) != 64 {
		t.Error("hash must be hex sha-256")
	}
}

func TestTitle(t *testing.T) {
	if got := Title(samplePage); got != "Pricing — Example" {
		t.Errorf("Title = %q", got)
	}
	if got := Title("<html><body>no title</body></html>"); got != "" {
		t.Errorf("Title on titleless page = %q", got)
	}
}
