package domain

import "testing"

func TestParseFaceValue(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "dollar suffix", input: "50$", want: "50", wantOK: true},
		{name: "inside name", input: "iTunes 25$ US", want: "25", wantOK: true},
		{name: "fractional", input: "Steam 12.5€", want: "12.5", wantOK: true},
		{name: "baht", input: "Garena 100฿", want: "100", wantOK: true},
		{name: "last token wins", input: "Pack 5$ x2 = 10$", want: "10", wantOK: true},
		{name: "space before glyph is not a token", input: "Card 50 $", wantOK: false},
		{name: "no token", input: "Netflix Premium", wantOK: false},
		{name: "zero is ignored", input: "Promo 0$", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFaceValue(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseFaceValue(%q) ok=%v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got.String() != tt.want {
				t.Fatalf("ParseFaceValue(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
