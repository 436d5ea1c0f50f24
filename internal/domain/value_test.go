package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"null", `null`, KindAbsent},
		{"string", `"hello"`, KindScalar},
		{"number", `42`, KindScalar},
		{"bool", `true`, KindScalar},
		{"money", `{"@type":"MonetaryAmount","amount":42.5,"currency":"USD"}`, KindMonetary},
		{"person", `{"@type":"Person","name":"Jo","email":"jo@x.com"}`, KindPerson},
		{"reference", `{"@type":"StructuredValue","name":"Trip","url":"https://x/r"}`, KindReference},
		{"single attachment", `{"@type":"ImageObject","name":"a.png","url":"https://x/a.png"}`, KindAttachments},
		{"attachment list", `[{"@type":"ImageObject","name":"a.png","url":"https://x/a.png"},{"@type":"ImageObject","name":"b.pdf","url":"https://x/b.pdf"}]`, KindAttachments},
		{"mixed list", `["a", 1, null]`, KindList},
		{"unknown object", `{"@type":"Geo","lat":1}`, KindUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeValue(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("DecodeValue() error = %v", err)
			}
			if v.Kind != tt.kind {
				t.Errorf("DecodeValue(%s).Kind = %v, want %v", tt.raw, v.Kind, tt.kind)
			}
		})
	}
}

func TestDecodeValue_AttachmentOrder(t *testing.T) {
	raw := `[{"@type":"ImageObject","name":"1.png","url":"u1"},{"@type":"ImageObject","name":"2.png","url":"u2"}]`
	v, err := DecodeValue(json.RawMessage(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Attachments) != 2 || v.Attachments[0].Name != "1.png" || v.Attachments[1].URL != "u2" {
		t.Errorf("unexpected attachments: %+v", v.Attachments)
	}
}

func TestDecodeValue_MoneyAmountAsString(t *testing.T) {
	v, err := DecodeValue(json.RawMessage(`{"@type":"MonetaryAmount","amount":"12.25","currency":"EUR"}`))
	if err != nil {
		t.Fatal(err)
	}
	if v.Amount != 12.25 || v.Currency != "EUR" {
		t.Errorf("got %v %s", v.Amount, v.Currency)
	}
}

func TestDecodeValue_Invalid(t *testing.T) {
	if _, err := DecodeValue(json.RawMessage(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestRowValueMissingColumn(t *testing.T) {
	r := Row{ID: "r1", Values: map[string]Value{"c1": Scalar("x")}}
	if !r.Value("c2").IsAbsent() {
		t.Error("expected absent for missing column")
	}
	if r.Value("c1").Scalar != "x" {
		t.Error("expected stored scalar")
	}
}

func TestValidatePayloadValue(t *testing.T) {
	tests := []struct {
		name    string
		v       any
		wantErr bool
	}{
		{"string", "a", false},
		{"number", 1.5, false},
		{"bool", true, false},
		{"flat array", []any{"a", 1.0, false}, false},
		{"nested array", []any{[]any{"a"}}, true},
		{"object", map[string]any{"a": 1}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayloadValue(tt.v)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePayloadValue(%v) error = %v, wantErr %v", tt.v, err, tt.wantErr)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	results := []MigrationResult{
		Succeeded("a", "x", nil),
		Failed("b", errors.New("boom"), nil),
		Succeeded("c", "y", nil),
	}
	s := Summarize(results)
	if s.Total != 3 || s.Succeeded != 2 || s.Failed != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.ExitCode() != 5 {
		t.Errorf("ExitCode() = %d, want 5", s.ExitCode())
	}
	if (Summary{Total: 1, Failed: 1}).ExitCode() != 1 {
		t.Error("expected exit code 1 when all failed")
	}
	if (Summary{Total: 1, Succeeded: 1}).ExitCode() != 0 {
		t.Error("expected exit code 0 when all succeeded")
	}
}
