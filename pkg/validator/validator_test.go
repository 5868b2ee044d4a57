package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testSettings struct {
	Threshold int      `mapstructure:"threshold" validate:"gte=1"`
	Interval  string   `mapstructure:"interval" validate:"required"`
	Roots     []string `mapstructure:"roots" validate:"required,min=1"`
}

func TestValidateStructSuccess(t *testing.T) {
	settings := testSettings{
		Threshold: 5,
		Interval:  "60s",
		Roots:     []string{"./src"},
	}

	if err := ValidateStruct(settings); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	settings := testSettings{
		Threshold: 0,
		Interval:  "",
		Roots:     nil,
	}

	err := ValidateStruct(settings)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundThreshold := false
	for _, v := range vErrs {
		if v.Field == "threshold" {
			foundThreshold = true
		}
	}

	if !foundThreshold {
		t.Fatal("expected threshold field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("governed", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "governed"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"governed"`
	}

	if err := ValidateStruct(custom{Value: "governed"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
