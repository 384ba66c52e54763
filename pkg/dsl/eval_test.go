package dsl

import (
	"errors"
	"testing"
)

func testRecord() map[string]any {
	return map[string]any{
		"age":      int64(31),
		"sex":      "female",
		"bmi":      25.74,
		"children": int64(0),
		"smoker":   "no",
		"region":   "southeast",
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`record.age >= 18`, true},
		{`record.age > 64`, false},
		{`record.bmi > 10.0 && record.bmi < 80.0`, true},
		{`record.region in ["northeast", "northwest", "southeast", "southwest"]`, true},
		{`record.smoker == "yes"`, false},
		{`record.children <= 5`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, testRecord())
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := map[string]Rule{
		"syntax":      {Name: "bad", Expr: `record.age >=`},
		"non bool":    {Name: "num", Expr: `1 + 2`},
		"unknown var": {Name: "var", Expr: `user.age > 1`},
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Compile([]Rule{r}); err == nil {
				t.Error("expected compile error")
			}
		})
	}
}

func TestRuleSet_Check(t *testing.T) {
	rs, err := Compile([]Rule{
		{Name: "adult", Expr: `record.age >= 18`, Message: "age must be at least 18"},
		{Expr: ""},
		{Name: "bmi_range", Expr: `record.bmi > 10.0 && record.bmi < 80.0`, Message: "bmi out of range"},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if rs.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rs.Len())
	}
	if err := rs.Check(testRecord()); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	rec := testRecord()
	rec["bmi"] = 95.0
	err = rs.Check(rec)
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("Check() error = %v, want *Violation", err)
	}
	if v.Rule != "bmi_range" || v.Error() != "bmi out of range" {
		t.Errorf("Violation = %+v", v)
	}

	var nilSet *RuleSet
	if err := nilSet.Check(rec); err != nil {
		t.Errorf("nil RuleSet Check() error = %v", err)
	}
}

func TestViolation_ErrorWithoutMessage(t *testing.T) {
	rs, err := Compile([]Rule{{Name: "smoker", Expr: `record.smoker == "yes"`}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	err = rs.Check(testRecord())
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("Check() error = %v, want *Violation", err)
	}
	want := `rule "smoker" rejected the request: record.smoker == "yes"`
	if v.Expr != `record.smoker == "yes"` || v.Error() != want {
		t.Errorf("Error() = %q, want %q", v.Error(), want)
	}
}
