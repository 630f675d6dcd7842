package main

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSamplesMatchGoldens(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "tests", "*.ks"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no sample programs found")
	}
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			res := testFile(context.Background(), file, false)
			if res.Status != "PASS" {
				t.Fatalf("status %s: %s\n%s", res.Status, res.Message, res.Diff)
			}
			if res.Message != "All engines agree" {
				t.Errorf("message = %q, want a fresh golden", res.Message)
			}
		})
	}
}

func TestGoldenPath(t *testing.T) {
	if got, want := getJSONPath(filepath.Join("tests", "fib.ks")), filepath.Join("tests", ".fib.ks.json"); got != want {
		t.Errorf("getJSONPath = %q, want %q", got, want)
	}
}
