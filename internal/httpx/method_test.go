package httpx

import "testing"

func TestMethodRoundTrip(t *testing.T) {
	for _, m := range []Method{GET, POST, PUT, DELETE} {
		s, err := Method2String(m)
		if err != nil {
			t.Fatalf("Method2String(%d): %v", m, err)
		}
		back, err := String2Method(s)
		if err != nil {
			t.Fatalf("String2Method(%q): %v", s, err)
		}
		if back != m {
			t.Errorf("round trip mismatch: %d -> %q -> %d", m, s, back)
		}
	}
}

func TestString2MethodInvalid(t *testing.T) {
	if _, err := String2Method("PATCH"); err == nil {
		t.Fatal("expected an error for an unsupported verb")
	}
}

func TestMethod2StringInvalid(t *testing.T) {
	if _, err := Method2String(Method(99)); err == nil {
		t.Fatal("expected an error for an out-of-range method")
	}
}
