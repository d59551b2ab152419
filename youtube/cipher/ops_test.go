package cipher

import "testing"

func TestProgram_Encode(t *testing.T) {
	tests := []struct {
		name string
		p    Program
		want string
	}{
		{"scenario", Program{{Kind: Slice, Arg: 3}, {Kind: Reverse}, {Kind: Swap, Arg: 49}}, "s3 r w49"},
		{"reverse arg dropped", Program{{Kind: Reverse, Arg: 7}}, "r"},
		{"empty", Program{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseProgram(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Program
		wantErr bool
	}{
		{name: "canonical", in: "s3 r w49", want: Program{{Kind: Slice, Arg: 3}, {Kind: Reverse}, {Kind: Swap, Arg: 49}}},
		{name: "reverse with suffix", in: "w1 r7 s2", want: Program{{Kind: Swap, Arg: 1}, {Kind: Reverse}, {Kind: Slice, Arg: 2}}},
		{name: "extra whitespace", in: "  s0\tr  ", want: Program{{Kind: Slice, Arg: 0}, {Kind: Reverse}}},
		{name: "empty", in: "", wantErr: true},
		{name: "blank", in: "   ", wantErr: true},
		{name: "unknown token", in: "s3 x1", wantErr: true},
		{name: "missing argument", in: "s", wantErr: true},
		{name: "negative argument", in: "w-1", wantErr: true},
		{name: "trailing garbage", in: "w1a", wantErr: true},
		{name: "bad reverse suffix", in: "rx", wantErr: true},
		{name: "overflow", in: "s99999999999999999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProgram(tt.in)
			if tt.wantErr {
				if !IsInvalidProgram(err) {
					t.Fatalf("expected INVALID_PROGRAM, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProgram(%q) error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseProgram(%q) = %q, want %q", tt.in, got.Encode(), tt.want.Encode())
			}
		})
	}
}

func TestParseProgram_RoundTrip(t *testing.T) {
	for _, enc := range []string{"s3 r w49", "r", "w0", "s1 s2 r r w60 w2"} {
		p, err := ParseProgram(enc)
		if err != nil {
			t.Fatalf("ParseProgram(%q): %v", enc, err)
		}
		if got := p.Encode(); got != enc {
			t.Errorf("round trip %q -> %q", enc, got)
		}
	}
}

func TestProgram_Equal(t *testing.T) {
	a := Program{{Kind: Reverse, Arg: 7}, {Kind: Swap, Arg: 2}}
	b := Program{{Kind: Reverse}, {Kind: Swap, Arg: 2}}
	if !a.Equal(b) {
		t.Error("reverse arguments must not affect equality")
	}
	if a.Equal(Program{{Kind: Reverse}, {Kind: Swap, Arg: 3}}) {
		t.Error("different swap argument compared equal")
	}
	if a.Equal(a[:1]) {
		t.Error("different lengths compared equal")
	}
}

func TestProgram_Clone(t *testing.T) {
	p := Program{{Kind: Slice, Arg: 1}}
	c := p.Clone()
	c[0].Arg = 9
	if p[0].Arg != 1 {
		t.Error("clone shares memory with original")
	}
	if Program(nil).Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestKind_String(t *testing.T) {
	if Slice.String() != "slice" || Reverse.String() != "reverse" || Swap.String() != "swap" {
		t.Error("unexpected kind names")
	}
	if got := Kind(42).String(); got != "unknown(42)" {
		t.Errorf("got %q", got)
	}
}
