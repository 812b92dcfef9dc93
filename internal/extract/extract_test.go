package extract

import (
	"slices"
	"testing"
)

const page = `<!doctype html>
<html><head>
  <title>Fallback Title</title>
  <link rel="canonical" href="https://example.test/courses/">
  <link rel="stylesheet" href="/site.css">
</head>
<body>
  <h1>  </h1>
  <h1>Cloud  Courses</h1>
  <a href="/a?utm_source=nl#x">A</a>
  <a href="https://other.test/b">B</a>
  <a href="mailto:sales@example.test">mail</a>
  <a href="tel:+1555">call</a>
  <a href="/brochure.pdf">pdf</a>
  <div data-href="/from-data"></div>
  <span data-route="/route"></span>
  <button onclick="window.open('/popup')">open</button>
  <p>Enroll today.</p>
</body></html>`

func TestExtract(t *testing.T) {
	e := New(nil, 0)
	p, err := e.Extract("https://example.test/start", page, []string{"/from-render", "javascript:void(0)"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := []string{
		"https://example.test/a",
		"https://example.test/courses",
		"https://example.test/from-data",
		"https://example.test/from-render",
		"https://example.test/popup",
		"https://example.test/route",
		"https://other.test/b",
	}
	if !slices.Equal(p.Links, want) {
		t.Fatalf("links:\n got %v\nwant %v", p.Links, want)
	}
	if !slices.Equal(p.Denied, []string{"https://example.test/brochure.pdf"}) {
		t.Fatalf("denied: %v", p.Denied)
	}
	if p.Title != "Cloud Courses" {
		t.Fatalf("title: %q", p.Title)
	}
	if p.Classification != "course" {
		t.Fatalf("classification: %q", p.Classification)
	}
}

func TestTitleFallsBackToTitleTag(t *testing.T) {
	p, err := New(nil, 0).Extract("https://example.test/", "<html><head><title> Press Room </title></head><body></body></html>", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if p.Title != "Press Room" {
		t.Fatalf("title: %q", p.Title)
	}
	if p.Classification != "announcement" {
		t.Fatalf("classification: %q", p.Classification)
	}
}

func TestClassifyOrder(t *testing.T) {
	cases := map[string]string{
		"Certification exam training": "course",
		"Exam prep":                   "certification",
		"Product pricing":             "product",
		"Latest news":                 "announcement",
		"Customer case study":         "blog",
		"Join us":                     "careers",
		"About the company":           "other",
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Fatalf("Classify(%q) = %q, want %q", in, got, want)
		}
	}
}
