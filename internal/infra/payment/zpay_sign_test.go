//go:build !integration

package payment

import (
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	t.Run("should not depend on parameter order", func(t *testing.T) {
		a := Sign(map[string]string{"b": "2", "a": "1"}, "K")
		b := Sign(map[string]string{"a": "1", "b": "2"}, "K")
		if a != b {
			t.Fatalf("expected equal signatures, got %s and %s", a, b)
		}
	})

	t.Run("should equal md5 of the canonical string with the raw secret appended", func(t *testing.T) {
		// md5("a=1&b=2K")
		const want = "c3ade36f19be6d39bae19ed4e8673071"
		if got := Sign(map[string]string{"a": "1", "b": "2"}, "K"); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("should drop sign, sign_type and empty values", func(t *testing.T) {
		params := map[string]string{
			"a":         "1",
			"b":         "2",
			"sign":      "whatever",
			"sign_type": "MD5",
			"param":     "",
		}
		if got := Canonicalize(params); got != "a=1&b=2" {
			t.Errorf("expected a=1&b=2, got %s", got)
		}
		if Sign(params, "K") != "c3ade36f19be6d39bae19ed4e8673071" {
			t.Error("excluded keys must not change the signature")
		}
	})

	t.Run("should not url-encode values", func(t *testing.T) {
		params := map[string]string{
			"money":        "18.90",
			"name":         "创作入门包",
			"out_trade_no": "ORD20240501120000ABC",
			"pid":          "1001",
			"trade_no":     "T123",
			"trade_status": "TRADE_SUCCESS",
			"type":         "alipay",
		}
		const want = "24e54fbc7eca1cf162313f2da1b9786d"
		if got := Sign(params, "secret"); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
		if strings.Contains(Canonicalize(params), "%") {
			t.Error("canonical string must not be escaped")
		}
	})

	t.Run("should sort by raw byte order", func(t *testing.T) {
		got := Canonicalize(map[string]string{"b": "1", "B": "2", "a_b": "3", "aB": "4"})
		if got != "B=2&aB=4&a_b=3&b=1" {
			t.Errorf("unexpected order: %s", got)
		}
	})
}

func TestVerify(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2"}
	sig := Sign(params, "K")

	cases := []struct {
		name     string
		provided string
		secret   string
		want     bool
	}{
		{"exact signature", sig, "K", true},
		{"uppercase signature", strings.ToUpper(sig), "K", true},
		{"wrong secret", sig, "other", false},
		{"empty signature", "", "K", false},
		{"tampered signature", "0" + sig[1:], "K", sig[0] == '0'},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Verify(params, c.provided, c.secret); got != c.want {
				t.Errorf("Verify = %v, want %v", got, c.want)
			}
		})
	}

	t.Run("should accept the full callback set including sign fields", func(t *testing.T) {
		cb := map[string]string{"a": "1", "b": "2", "sign": sig, "sign_type": "MD5"}
		if !Verify(cb, cb["sign"], "K") {
			t.Error("expected callback parameters to verify")
		}
	})
}
