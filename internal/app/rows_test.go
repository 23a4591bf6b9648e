package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepairURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com/a", "https://example.com/a", true},
		{"  http://example.com  ", "http://example.com", true},
		{"https:/example.com/a", "https://example.com/a", true},
		{"http:/example.com", "http://example.com", true},
		{"www.gov.cn/zhengce", "https://www.gov.cn/zhengce", true},
		{"example.org", "https://example.org", true},
		{"//cdn.example.com/x", "https://cdn.example.com/x", true},
		{"", "", false},
		{"nan", "", false},
		{"None", "", false},
		{"not a url", "", false},
		{"ftp://example.com/file", "", false},
		{"localhost", "", false},
	}
	for _, c := range cases {
		got, ok := RepairURL(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("RepairURL(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestReadRows_HeaderNames(t *testing.T) {
	in := "\ufeff序号,标题,链接\n1,通知公告,https://example.com/a\n2,,https:/example.com/b\n3,空行,\n4,第四,www.example.com/d\n"
	rows, err := ReadRows(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %+v", rows)
	}
	if rows[0].Row != 1 || rows[0].Title != "通知公告" || rows[0].URL != "https://example.com/a" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].Title != "页面_2" || rows[1].URL != "https://example.com/b" {
		t.Fatalf("expected default title and repaired URL, got %+v", rows[1])
	}
	// Row numbers keep counting across the skipped row.
	if rows[2].Row != 4 || rows[2].URL != "https://www.example.com/d" {
		t.Fatalf("unexpected last row %+v", rows[2])
	}
}

func TestReadRows_DetectsURLColumnByContent(t *testing.T) {
	in := "name,address line\nA,http://example.com/1\nB,http://example.com/2\n"
	rows, err := ReadRows(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 || rows[0].URL != "http://example.com/1" || rows[0].Title != "A" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestReadRows_Headerless(t *testing.T) {
	in := "http://example.com/1\nhttp://example.com/2\n"
	rows, err := ReadRows(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 || rows[0].Row != 1 || rows[1].Title != "页面_2" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestReadRows_NoRows(t *testing.T) {
	for _, in := range []string{"", "url\n", "title,url\nx,nan\n", "a,b\nc,d\n"} {
		if _, err := ReadRows(strings.NewReader(in)); !errors.Is(err, ErrNoRows) {
			t.Errorf("input %q: expected ErrNoRows, got %v", in, err)
		}
	}
}

func TestLoadRows_MissingFile(t *testing.T) {
	if _, err := LoadRows(filepath.Join(t.TempDir(), "nope.csv")); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
