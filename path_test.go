package zip

import "testing"

func TestSanitizeExtractPath(t *testing.T) {
	cases := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"a/b/c.txt", "a/b/c.txt", true},
		{"./a.txt", "a.txt", true},
		{"a/../b.txt", "b.txt", true},
		{"../escape.txt", "", false},
		{"a/../../escape.txt", "", false},
		{"/absolute/path.txt", "absolute/path.txt", true},
		{`C:\windows\path.txt`, "windows/path.txt", true},
		{`a\b\c.txt`, "a/b/c.txt", true},
		{"dir/", "dir", true},
		{"a\x00b", "", false},
		{"", "", true},
	}
	for _, c := range cases {
		got, ok := sanitizeExtractPath(c.name)
		if ok != c.wantOK {
			t.Errorf("sanitizeExtractPath(%q) ok = %v, want %v", c.name, ok, c.wantOK)
			continue
		}
		if ok && got != c.want {
			t.Errorf("sanitizeExtractPath(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestIsDriveLetter(t *testing.T) {
	cases := map[string]bool{
		"C:":  true,
		"z:":  true,
		"1:":  false,
		"C":   false,
		"CC:": false,
	}
	for in, want := range cases {
		if got := isDriveLetter(in); got != want {
			t.Errorf("isDriveLetter(%q) = %v, want %v", in, got, want)
		}
	}
}
