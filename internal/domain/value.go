package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindAbsent Kind = iota
	KindScalar
	KindMonetary
	KindReference
	KindPerson
	KindAttachments
	KindList
	KindUnrecognized
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindScalar:
		return "scalar"
	case KindMonetary:
		return "monetary"
	case KindReference:
		return "reference"
	case KindPerson:
		return "person"
	case KindAttachments:
		return "attachments"
	case KindList:
		return "list"
	default:
		return "unrecognized"
	}
}

// Value is a cell value as read from the source table.
//
// Only the fields belonging to Kind are meaningful:
//
//	KindScalar        Scalar (bool, float64 or string)
//	KindMonetary      Amount, Currency
//	KindReference     Name, URL
//	KindPerson        Name, Email
//	KindAttachments   Attachments
//	KindList          Items
//	KindUnrecognized  Raw
type Value struct {
	Kind        Kind
	Scalar      any
	Amount      float64
	Currency    string
	Name        string
	Email       string
	URL         string
	Attachments []Attachment
	Items       []Value
	Raw         map[string]any
}

// Absent returns the empty value.
func Absent() Value { return Value{Kind: KindAbsent} }

// Scalar wraps a bool, number or string.
func Scalar(v any) Value { return Value{Kind: KindScalar, Scalar: v} }

// Money returns a monetary amount.
func Money(amount float64, currency string) Value {
	return Value{Kind: KindMonetary, Amount: amount, Currency: currency}
}

// Person returns a person reference.
func Person(name, email string) Value {
	return Value{Kind: KindPerson, Name: name, Email: email}
}

// Reference returns a structured reference (linked row, web page).
func Reference(name, url string) Value {
	return Value{Kind: KindReference, Name: name, URL: url}
}

// Attachments returns an attachment-list value.
func Attachments(files ...Attachment) Value {
	return Value{Kind: KindAttachments, Attachments: files}
}

// List returns an array of values.
func List(items ...Value) Value { return Value{Kind: KindList, Items: items} }

// Unrecognized wraps a structured value with an unknown shape.
func Unrecognized(raw map[string]any) Value {
	return Value{Kind: KindUnrecognized, Raw: raw}
}

// IsAbsent reports whether v carries no data.
func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

// DecodeValue converts a rich-format JSON cell into a Value.
func DecodeValue(data json.RawMessage) (Value, error) {
	if len(data) == 0 {
		return Absent(), nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("invalid cell value: %w", err)
	}
	return FromAny(raw), nil
}

// FromAny converts a decoded JSON value into a Value.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Absent()
	case bool, float64, string:
		return Scalar(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return Scalar(f)
		}
		return Scalar(v.String())
	case int:
		return Scalar(float64(v))
	case []any:
		return fromSlice(v)
	case map[string]any:
		return fromObject(v)
	default:
		return Scalar(fmt.Sprint(v))
	}
}

func fromSlice(items []any) Value {
	if len(items) == 0 {
		return List()
	}

	files := make([]Attachment, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok || !isAttachmentType(stringField(obj, "@type")) {
			files = nil
			break
		}
		files = append(files, attachmentFrom(obj))
	}
	if files != nil {
		return Attachments(files...)
	}

	values := make([]Value, 0, len(items))
	for _, item := range items {
		values = append(values, FromAny(item))
	}
	return List(values...)
}

func fromObject(obj map[string]any) Value {
	typ := stringField(obj, "@type")
	switch {
	case typ == "MonetaryAmount":
		return Money(numberField(obj, "amount"), stringField(obj, "currency"))
	case typ == "Person":
		return Person(stringField(obj, "name"), stringField(obj, "email"))
	case typ == "StructuredValue" || typ == "WebPage" || typ == "Thing":
		return Reference(stringField(obj, "name"), stringField(obj, "url"))
	case isAttachmentType(typ):
		return Attachments(attachmentFrom(obj))
	default:
		return Unrecognized(obj)
	}
}

func isAttachmentType(typ string) bool {
	switch typ {
	case "ImageObject", "MediaObject", "DigitalDocument":
		return true
	}
	return false
}

func attachmentFrom(obj map[string]any) Attachment {
	return Attachment{URL: stringField(obj, "url"), Name: stringField(obj, "name")}
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func numberField(obj map[string]any, key string) float64 {
	switch n := obj[key].(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
