package validate

import "testing"

type authPayload struct {
	AccountID string `validate:"required"`
}

func TestStructRejectsMissingRequiredField(t *testing.T) {
	if err := Struct(authPayload{}); err == nil {
		t.Fatal("expected validation error for empty AccountID")
	}
}

func TestStructAcceptsValidValue(t *testing.T) {
	if err := Struct(authPayload{AccountID: "acc-1"}); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
