package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func job(osName, version string) domain.JobSpec {
	return domain.NewJobSpec([]domain.AxisValue{
		{Axis: "os", Value: osName},
		{Axis: "python-version", Value: version},
	})
}

func TestParseGuard_Empty(t *testing.T) {
	expr, err := ParseGuard("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expr != nil {
		t.Fatalf("expected nil expr, got %v", expr)
	}
	if !expr.Eval(job("ubuntu", "3.8")) {
		t.Error("nil guard must be true")
	}
}

func TestGuard_Eval(t *testing.T) {
	coverage := "matrix.os == 'ubuntu' && matrix.python-version == '3.11'"
	notCoverage := "!(matrix.os == 'ubuntu' && matrix.python-version == '3.11')"

	tests := []struct {
		name  string
		guard string
		job   domain.JobSpec
		want  bool
	}{
		{"eq match", "matrix.os == 'ubuntu'", job("ubuntu", "3.8"), true},
		{"eq mismatch", "matrix.os == 'ubuntu'", job("macos", "3.8"), false},
		{"ne", `matrix.os != "windows"`, job("macos", "3.8"), true},
		{"bare literal", "matrix.python-version == 3.10", job("macos", "3.10"), true},
		{"reversed operands", "'windows' == matrix.os", job("windows", "3.9"), true},
		{"coverage job", coverage, job("ubuntu", "3.11"), true},
		{"coverage other", coverage, job("ubuntu", "3.10"), false},
		{"not coverage", notCoverage, job("ubuntu", "3.11"), false},
		{"not coverage other", notCoverage, job("windows", "3.11"), true},
		{"or", "matrix.os == macos || matrix.os == windows", job("windows", "3.8"), true},
		{"precedence", "matrix.os == macos || matrix.os == ubuntu && matrix.python-version == 3.9", job("macos", "3.11"), true},
		{"true literal", "true", job("ubuntu", "3.8"), true},
		{"false literal", "false", job("ubuntu", "3.8"), false},
		{"double negation", "!!(matrix.os == ubuntu)", job("ubuntu", "3.8"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseGuard(tt.guard)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.guard, err)
			}
			if got := expr.Eval(tt.job); got != tt.want {
				t.Errorf("Eval(%s) = %v, want %v (expr %s)", tt.job, got, tt.want, expr)
			}
		})
	}
}

func TestGuard_ExactlyOneCoverageJob(t *testing.T) {
	jobs, err := Expand(exampleMatrix())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guard := MustParseGuard("matrix.os == 'ubuntu' && matrix.python-version == '3.11'")
	inverse := MustParseGuard("!(matrix.os == 'ubuntu' && matrix.python-version == '3.11')")

	matched := 0
	for _, j := range jobs {
		if guard.Eval(j) {
			matched++
		}
		if guard.Eval(j) == inverse.Eval(j) {
			t.Errorf("job %s: coverage and default guards must be exclusive", j)
		}
	}
	if matched != 1 {
		t.Errorf("expected 1 match, got %d", matched)
	}
}

func TestParseGuard_SyntaxErrors(t *testing.T) {
	tests := []string{
		"matrix.os ==",
		"matrix.os = 'ubuntu'",
		"(matrix.os == 'ubuntu'",
		"matrix.os == 'ubuntu",
		"matrix.os == 'ubuntu' &&",
		"'a' == 'b'",
		"matrix.os == matrix.arch",
		"matrix.os",
		"matrix.os == ubuntu extra",
		"matrix.os == ubuntu & x",
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := ParseGuard(src)
			if !errors.Is(err, ErrGuardSyntax) {
				t.Errorf("expected ErrGuardSyntax, got %v", err)
			}
		})
	}
}

func TestGuard_Axes(t *testing.T) {
	expr := MustParseGuard("matrix.os == a || (matrix.arch != b && matrix.os != c)")

	axes := expr.Axes()
	if len(axes) != 2 || axes[0] != "os" || axes[1] != "arch" {
		t.Errorf("expected [os arch], got %v", axes)
	}
}

func TestValidateGuard_UnknownAxis(t *testing.T) {
	expr := MustParseGuard("matrix.arch == 'arm64'")

	err := ValidateGuard(expr, exampleMatrix())
	if !errors.Is(err, ErrUnknownAxis) {
		t.Errorf("expected ErrUnknownAxis, got %v", err)
	}

	if err := ValidateGuard(MustParseGuard("matrix.os == ubuntu"), exampleMatrix()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGuard_String(t *testing.T) {
	expr := MustParseGuard("!(matrix.os == ubuntu && matrix.python-version != 3.11)")

	want := "!(matrix.os == 'ubuntu' && matrix.python-version != '3.11')"
	if got := expr.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
