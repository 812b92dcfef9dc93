package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw, base, want string
		ok              bool
	}{
		{"http://x.com/a?utm_source=x&b=1", "", "http://x.com/a?b=1", true},
		{"http://x.com/a/", "", "http://x.com/a", true},
		{"http://x.com/a", "", "http://x.com/a", true},
		{"http://x.com/", "", "http://x.com/", true},
		{"http://x.com", "", "http://x.com/", true},
		{"http://x.com/a/../b", "", "http://x.com/b", true},
		{"http://x.com/a/./c/", "", "http://x.com/a/c", true},
		{"../b", "http://x.com/a/c", "http://x.com/b", true},
		{"HTTPS://Example.COM/Path/?Q=1#frag", "", "https://example.com/Path?Q=1", true},
		{"/docs/intro/", "https://example.com/a/b", "https://example.com/docs/intro", true},
		{"next", "https://example.com/a/b", "https://example.com/a/next", true},
		{"//cdn.example.com/x", "https://example.com/", "https://cdn.example.com/x", true},
		{"#top", "https://example.com/page", "https://example.com/page", true},
		{"/p?UTM_Medium=x&fbclid=1&gclid=2&icid=3", "https://a.test/", "https://a.test/p", true},
		{"/p?a=1&a=2&b", "https://a.test/", "https://a.test/p?a=1&a=2&b=", true},
		{"/p?&&a=1&", "https://a.test/", "https://a.test/p?a=1", true},
		{"/p?utm%5Fsource=x&k=v", "https://a.test/", "https://a.test/p?k=v", true},
		{"mailto:sales@example.com", "https://example.com/", "", false},
		{"tel:+15550100", "https://example.com/", "", false},
		{"javascript:void(0)", "https://example.com/", "", false},
		{"", "", "", false},
		{"http://[::1", "", "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.raw, tc.base)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q, %q) = (%q, %v), want (%q, %v)", tc.raw, tc.base, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"http://x.com/a?utm_source=x&b=1",
		"https://Example.com//a//",
		"https://example.com/a%20b/?q=hello%20world&flag",
		"https://example.com/%7Euser/",
		"http://example.com:8080/A/B/?z=1&y=2#frag",
		"https://example.com/search?q=a+b&utm_term=x",
		"https://example.com/?",
	}
	for _, in := range inputs {
		once, ok := Normalize(in, "")
		if !ok {
			t.Fatalf("Normalize(%q) rejected", in)
		}
		twice, ok := Normalize(once, "")
		if !ok || twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestTrackingVariantsCollapse(t *testing.T) {
	a, _ := Normalize("/page?utm_campaign=x", "https://example.test/a")
	b, _ := Normalize("/page", "https://example.test/b")
	if a != b {
		t.Fatalf("expected %q == %q", a, b)
	}
}

func TestHasExtension(t *testing.T) {
	exts := []string{".pdf", ".png"}
	if !HasExtension("https://a.test/files/Report.PDF", exts) {
		t.Fatalf("expected pdf match")
	}
	if HasExtension("https://a.test/pdf-guide", exts) {
		t.Fatalf("path without extension should not match")
	}
	if HasExtension("https://a.test/page?file=x.pdf", exts) {
		t.Fatalf("query should not count as extension")
	}
}

func TestSameHostAndSiteRoot(t *testing.T) {
	if !SameHost("https://Example.com/x", "example.com") {
		t.Fatalf("hosts should match case-insensitively")
	}
	if SameHost("https://other.com/x", "example.com") {
		t.Fatalf("different host matched")
	}
	root, ok := SiteRoot("https://Example.com/a/b?c=d")
	if !ok || root != "https://example.com" {
		t.Fatalf("site root: %q %v", root, ok)
	}
}
