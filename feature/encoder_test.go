package feature

import (
	"testing"

	"github.com/rushteam/medcost/core"
)

func TestLabelEncoder_SortsClasses(t *testing.T) {
	enc, err := NewLabelEncoder("region", []string{"southwest", "northeast", "southeast", "northwest", "southeast"})
	if err != nil {
		t.Fatalf("NewLabelEncoder() error = %v", err)
	}

	want := []string{"northeast", "northwest", "southeast", "southwest"}
	got := enc.Classes()
	if len(got) != len(want) {
		t.Fatalf("Classes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Classes()[%d] = %q, want %q", i, got[i], want[i])
		}
		code, err := enc.Encode(want[i])
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", want[i], err)
		}
		if code != i {
			t.Errorf("Encode(%q) = %d, want %d", want[i], code, i)
		}
	}
}

func TestLabelEncoder_RoundTrip(t *testing.T) {
	enc, err := NewLabelEncoder("smoker", []string{"no", "yes"})
	if err != nil {
		t.Fatalf("NewLabelEncoder() error = %v", err)
	}
	for _, class := range []string{"no", "yes"} {
		code, err := enc.Encode(class)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", class, err)
		}
		back, err := enc.Decode(code)
		if err != nil {
			t.Fatalf("Decode(%d) error = %v", code, err)
		}
		if back != class {
			t.Errorf("Decode(Encode(%q)) = %q", class, back)
		}
	}
	if _, err := enc.Decode(2); !core.IsUnknownCategory(err) {
		t.Errorf("Decode(2) error = %v, want UNKNOWN_CATEGORY", err)
	}
}

func TestLabelEncoder_UnknownCategory(t *testing.T) {
	enc, err := NewLabelEncoder("sex", []string{"female", "male"})
	if err != nil {
		t.Fatalf("NewLabelEncoder() error = %v", err)
	}

	tests := []string{"unspecified", "", "Female", " male"}
	for _, value := range tests {
		t.Run(value, func(t *testing.T) {
			code, err := enc.Encode(value)
			if !core.IsUnknownCategory(err) {
				t.Fatalf("Encode(%q) = (%d, %v), want UNKNOWN_CATEGORY", value, code, err)
			}
			de := core.GetDomainError(err)
			if de.Field != "sex" {
				t.Errorf("Field = %q, want sex", de.Field)
			}
		})
	}
}

func TestNewEncoderRegistry_RequiresAllFields(t *testing.T) {
	sex, _ := NewLabelEncoder("sex", []string{"female", "male"})
	smoker, _ := NewLabelEncoder("smoker", []string{"no", "yes"})

	if _, err := NewEncoderRegistry(sex, smoker); err == nil {
		t.Fatal("expected error for missing region encoder")
	}
	if _, err := NewEncoderRegistry(sex, sex); err == nil {
		t.Fatal("expected error for duplicate encoder")
	}
}

func TestEncoderRegistry_Encode(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		field string
		value string
		want  int
	}{
		{"sex", "female", 0},
		{"sex", "male", 1},
		{"smoker", "no", 0},
		{"smoker", "yes", 1},
		{"region", "northeast", 0},
		{"region", "southwest", 3},
	}
	for _, tt := range tests {
		got, err := reg.Encode(tt.field, tt.value)
		if err != nil {
			t.Fatalf("Encode(%s, %s) error = %v", tt.field, tt.value, err)
		}
		if got != tt.want {
			t.Errorf("Encode(%s, %s) = %d, want %d", tt.field, tt.value, got, tt.want)
		}
	}

	if _, err := reg.Encode("age", "19"); !core.IsNotFound(err) {
		t.Errorf("Encode(age) error = %v, want NOT_FOUND", err)
	}
}

func testRegistry(t *testing.T) *EncoderRegistry {
	t.Helper()
	sex, err := NewLabelEncoder("sex", []string{"male", "female"})
	if err != nil {
		t.Fatal(err)
	}
	smoker, err := NewLabelEncoder("smoker", []string{"yes", "no"})
	if err != nil {
		t.Fatal(err)
	}
	region, err := NewLabelEncoder("region", []string{"southwest", "southeast", "northwest", "northeast"})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewEncoderRegistry(sex, smoker, region)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}
