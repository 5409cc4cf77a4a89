package utils

import (
	"testing"
	"time"
)

func TestSetDefaultNum(t *testing.T) {
	var i int
	SetDefaultNum(&i, 5)
	if i != 5 {
		t.Fatalf("want 5, got %d", i)
	}

	n := -1
	SetDefaultNum(&n, 3)
	if n != 3 {
		t.Fatalf("negative value should be replaced, got %d", n)
	}

	d := time.Second
	SetDefaultNum(&d, time.Minute)
	if d != time.Second {
		t.Fatalf("non-zero value should be kept, got %s", d)
	}
}

func TestSetDefaultString(t *testing.T) {
	s := ""
	SetDefaultString(&s, "x")
	if s != "x" {
		t.Fatal("empty string should be replaced")
	}
	SetDefaultString(&s, "y")
	if s != "x" {
		t.Fatal("non-empty string should be kept")
	}
}
