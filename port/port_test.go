package port

import (
	"errors"
	"slices"
	"testing"
)

func names(seq func(func(Endpoint) bool)) []string {
	var out []string
	for e := range seq {
		out = append(out, e.Name)
	}
	return out
}

func staticSource(list ...string) Source {
	return func() ([]Endpoint, error) {
		var out []Endpoint
		for _, n := range list {
			out = append(out, Endpoint{Name: n, Kind: kindOf(n)})
		}
		return out, nil
	}
}

func TestList(t *testing.T) {
	t.Run("platform order", func(t *testing.T) {
		got := names(List(staticSource("/dev/ttyUSB0", "/dev/ttyACM0", "/dev/ttyUSB2")))
		want := []string{"/dev/ttyUSB0", "/dev/ttyACM0", "/dev/ttyUSB2"}
		if !slices.Equal(got, want) {
			t.Errorf("List() = %q, want %q", got, want)
		}
	})

	t.Run("query failure yields nothing", func(t *testing.T) {
		src := func() ([]Endpoint, error) { return nil, errors.New("no sysfs") }
		if got := names(List(src)); len(got) != 0 {
			t.Errorf("expected empty sequence, got %q", got)
		}
	})

	t.Run("restartable and not cached", func(t *testing.T) {
		present := []string{"/dev/ttyUSB0"}
		src := func() ([]Endpoint, error) {
			return staticSource(present...)()
		}
		seq := List(src)

		if got := names(seq); len(got) != 1 {
			t.Fatalf("first pass = %q", got)
		}
		present = append(present, "/dev/ttyUSB1")
		if got := names(seq); len(got) != 2 {
			t.Errorf("second pass should see the new endpoint, got %q", got)
		}
	})

	t.Run("early stop", func(t *testing.T) {
		calls := 0
		for range List(staticSource("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2")) {
			calls++
			break
		}
		if calls != 1 {
			t.Errorf("expected one element before break, got %d", calls)
		}
	})
}

func TestExclude(t *testing.T) {
	src := staticSource("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyAMA0", "/dev/ttyUSB2")

	tests := []struct {
		name string
		deny []string
		want []string
	}{
		{"none", nil, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyAMA0", "/dev/ttyUSB2"}},
		{"base name", []string{"ttyAMA0"}, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}},
		{"full path", []string{"/dev/ttyUSB1"}, []string{"/dev/ttyUSB0", "/dev/ttyAMA0", "/dev/ttyUSB2"}},
		{"unknown entry", []string{"ttyXYZ"}, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyAMA0", "/dev/ttyUSB2"}},
		{"blank entries", []string{" ", ""}, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyAMA0", "/dev/ttyUSB2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(Exclude(List(src), tt.deny))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Exclude() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDenylist(t *testing.T) {
	got := ParseDenylist(" ttyAMA0, /dev/ttyUSB1,,ttyS0 ")
	want := []string{"ttyAMA0", "/dev/ttyUSB1", "ttyS0"}
	if !slices.Equal(got, want) {
		t.Errorf("ParseDenylist() = %q, want %q", got, want)
	}
	if got := ParseDenylist(""); got != nil {
		t.Errorf("ParseDenylist(\"\") = %q, want nil", got)
	}
}

func TestSortByPriority(t *testing.T) {
	in := []Endpoint{
		{Name: "/dev/ttyAMA0"},
		{Name: "/dev/ttyUSB0"},
		{Name: "/dev/ttyACM0"},
		{Name: "/dev/ttyUSB10"},
		{Name: "/dev/ttyUSB2"},
		{Name: "COM3"},
	}
	var got []string
	for _, e := range SortByPriority(in) {
		got = append(got, e.Name)
	}
	want := []string{"/dev/ttyUSB10", "/dev/ttyUSB2", "/dev/ttyUSB0", "/dev/ttyAMA0", "/dev/ttyACM0", "COM3"}
	if !slices.Equal(got, want) {
		t.Errorf("SortByPriority() = %q, want %q", got, want)
	}
	if in[0].Name != "/dev/ttyAMA0" {
		t.Error("SortByPriority must not reorder its input")
	}
}

func TestSortByPriorityAnyPermutation(t *testing.T) {
	want := []string{"/dev/ttyUSB2", "/dev/ttyUSB1", "/dev/ttyUSB0", "/dev/ttyAMA0"}

	var permute func(prefix, rest []string)
	permute = func(prefix, rest []string) {
		if len(rest) == 0 {
			in := make([]Endpoint, len(prefix))
			for i, n := range prefix {
				in[i] = Endpoint{Name: n}
			}
			var got []string
			for _, e := range SortByPriority(in) {
				got = append(got, e.Name)
			}
			if !slices.Equal(got, want) {
				t.Errorf("SortByPriority(%q) = %q, want %q", prefix, got, want)
			}
			return
		}
		for i := range rest {
			next := slices.Concat(rest[:i], rest[i+1:])
			permute(append(slices.Clone(prefix), rest[i]), next)
		}
	}
	permute(nil, want)
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"/dev/ttyUSB3", USBSerial},
		{"/dev/ttyACM0", ACM},
		{"/dev/ttyAMA0", UART},
		{"/dev/ttyTHS1", UART},
		{"/dev/ttyS0", UART},
		{"/dev/cu.usbmodem14101", ACM},
		{"COM4", Serial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindOf(tt.name); got != tt.want {
				t.Errorf("kindOf(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if USBSerial.String() != "usb-serial" || Serial.String() != "serial" {
		t.Error("unexpected Kind names")
	}
}
