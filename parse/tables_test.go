package parse

import "testing"

func TestSignalQualityBoundaries(t *testing.T) {
	tests := []struct {
		rssi int
		want string
	}{
		{-1, Unknown},
		{0, "Very Poor"},
		{1, "Very Poor"},
		{2, "Poor"},
		{9, "Poor"},
		{10, "Fair"},
		{14, "Fair"},
		{15, "Good"},
		{19, "Good"},
		{20, "Excellent"},
		{31, "Excellent"},
		{32, Unknown},
		{99, Unknown},
	}
	for _, tt := range tests {
		if got := SignalQuality.Label(tt.rssi); got != tt.want {
			t.Errorf("SignalQuality.Label(%d) = %q, want %q", tt.rssi, got, tt.want)
		}
	}
}

func TestTableRoundTrip(t *testing.T) {
	raw, ok := SignalQuality.Encode("Good")
	if !ok {
		t.Fatal("Encode(Good) failed")
	}
	if got := SignalQuality.Label(raw); got != "Good" {
		t.Errorf("Label(Encode(Good)) = %q", got)
	}

	last := SignalQuality[len(SignalQuality)-1].Max
	if got := SignalQuality.Label(last + 1); got != Unknown {
		t.Errorf("one past the last band = %q, want %q", got, Unknown)
	}

	if _, ok := SignalQuality.Encode("Superb"); ok {
		t.Error("Encode of an unknown label should fail")
	}
}

func TestTablesDoNotOverlap(t *testing.T) {
	tables := map[string]Table{
		"SignalQuality":      SignalQuality,
		"BitErrorRate":       BitErrorRate,
		"Registration":       Registration,
		"AccessTechnology":   AccessTechnology,
		"OperatorMode":       OperatorMode,
		"NetworkStatus":      NetworkStatus,
		"PacketRegistration": PacketRegistration,
	}
	for name, table := range tables {
		for i, a := range table {
			if a.Min > a.Max {
				t.Errorf("%s band %d is inverted", name, i)
			}
			for _, b := range table[i+1:] {
				if a.Min <= b.Max && b.Min <= a.Max {
					t.Errorf("%s bands %q and %q overlap", name, a.Label, b.Label)
				}
			}
		}
	}
}

func TestSignalDBm(t *testing.T) {
	tests := map[int]string{
		0:  "<= -113 dBm",
		1:  "-111 dBm",
		2:  "-109 dBm",
		17: "-79 dBm",
		30: "-53 dBm",
		31: ">= -51 dBm",
		99: Unknown,
	}
	for rssi, want := range tests {
		if got := SignalDBm(rssi); got != want {
			t.Errorf("SignalDBm(%d) = %q, want %q", rssi, got, want)
		}
	}
}
