package domain

import "testing"

func TestValidateZoneName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"example.com.", false},
		{"a.b.c.", false},
		{"label-with-hyphen.com.", false},
		{"", true},
		{".", false}, // Root zone IS valid according to code
		{"too-long-label-" + string(make([]byte, 50)) + ".com.", true},
		{"-start-with-hyphen.com.", true},
		{"end-with-hyphen-.com.", true},
		{"invalid_char.com.", true},
		{"missing-trailing-dot.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateZoneName(tt.name); (err != nil) != tt.wantErr {
				t.Errorf("ValidateZoneName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Example.COM.", "example.com", false},
		{"example.com", "example.com", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"", "", true},
		{".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanonicalName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFqdn(t *testing.T) {
	if got := Fqdn("example.com"); got != "example.com." {
		t.Errorf("Fqdn() = %q", got)
	}
	if got := Fqdn("example.com."); got != "example.com." {
		t.Errorf("Fqdn() = %q", got)
	}
}
