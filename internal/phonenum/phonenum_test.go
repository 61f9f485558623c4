package phonenum

import "testing"

func TestSchemeSpecificPart(t *testing.T) {
	cases := map[string]string{
		"tel:+15551234567":        "+15551234567",
		"sip:5551234567@host.com": "5551234567@host.com",
		"5551234567":              "5551234567",
	}
	for in, want := range cases {
		if got := SchemeSpecificPart(in); got != want {
			t.Errorf("SchemeSpecificPart(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestExtractPhone(t *testing.T) {
	if got := ExtractPhone("sip:+1 (555) 123-4567@domain.com;user=phone"); got != "+15551234567" {
		t.Errorf("phone mismatch: got %s, want +15551234567", got)
	}
	if got := ExtractPhone("tel:555-1234"); got != "5551234" {
		t.Errorf("phone mismatch: got %s, want 5551234", got)
	}
}

func TestStripSeparators(t *testing.T) {
	if got := StripSeparators("+1 (555) 123-4567,9#"); got != "+15551234567,9#" {
		t.Errorf("strip mismatch: got %s", got)
	}
}

func TestTypeOfAddress(t *testing.T) {
	if got := TypeOfAddress("+15551234567"); got != TOAInternational {
		t.Errorf("international toa: got %d, want %d", got, TOAInternational)
	}
	if got := TypeOfAddress("5551234567"); got != TOAUnknown {
		t.Errorf("national toa: got %d, want %d", got, TOAUnknown)
	}
}

func TestSameNumber(t *testing.T) {
	tests := []struct {
		a, b   string
		region string
		want   bool
	}{
		{"tel:+15551234567", "tel:5551234567", "US", true},
		{"tel:555-123-4567", "sip:5551234567@host", "us", true},
		{"tel:+442071234567", "tel:020 7123 4567", "GB", true},
		{"tel:5551234567", "tel:5559999999", "US", false},
		{"tel:+4915551234567", "tel:+15551234567", "US", false},
		{"tel:+4915551234567", "tel:15551234567", "US", false},
		{"tel:1234", "tel:91234", "US", false},
		{"", "tel:1234", "US", false},
		{"tel:5551234567", "tel:5551234567", "", true},
		{"tel:5551234567", "tel:+15551234567", "", false},
	}
	for _, tt := range tests {
		if got := SameNumber(tt.a, tt.b, tt.region); got != tt.want {
			t.Errorf("SameNumber(%q, %q, %q): got %v, want %v", tt.a, tt.b, tt.region, got, tt.want)
		}
	}
}
