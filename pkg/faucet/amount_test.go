package faucet

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		valid bool
	}{
		{"0", true},
		{"1000000", true},
		{" 42 ", true},
		{"340282366920938463463374607431768211455", true},
		{"340282366920938463463374607431768211456", false},
		{"-1", false},
		{"+1", false},
		{"1.5", false},
		{"0x10", false},
		{"", false},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("parse_amount_%v", i), func(t *testing.T) {
			_, err := ParseAmount(tc.input)
			if tc.valid != (err == nil) {
				t.Errorf("Unexpected result for %q: %v", tc.input, err)
			}
		})
	}
}

func TestAmountJSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		expected string
	}{
		{`"123"`, `"123"`},
		{`123`, `"123"`},
		{`"340282366920938463463374607431768211455"`, `"340282366920938463463374607431768211455"`},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("amount_json_%v", i), func(t *testing.T) {
			var a Amount
			if err := json.Unmarshal([]byte(tc.input), &a); err != nil {
				t.Fatal(err)
			}

			data, err := json.Marshal(a)
			if err != nil {
				t.Fatal(err)
			}

			if string(data) != tc.expected {
				t.Errorf("Actual JSON (%s) is different from expected (%s)", data, tc.expected)
			}
		})
	}

	var a Amount
	if err := json.Unmarshal([]byte(`"-5"`), &a); err == nil {
		t.Error("Negative amount was accepted")
	}

	if zero := (Amount{}); zero.String() != "0" {
		t.Errorf("Zero amount is rendered as %v", zero)
	}
}

func TestVerifyErrorJSON(t *testing.T) {
	t.Parallel()

	for verr := VerifyNoError; verr < VERIFY_ERRORS_COUNT; verr++ {
		data, err := json.Marshal(verr)
		if err != nil {
			t.Fatal(err)
		}

		if string(data) != `"`+verr.String()+`"` {
			t.Errorf("Unexpected JSON for %v: %s", int(verr), data)
		}

		if verr.String() == "error" {
			t.Errorf("Verify error %v has no name", int(verr))
		}
	}
}
