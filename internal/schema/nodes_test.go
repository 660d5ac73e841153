package schema

import (
	"encoding/json"
	"testing"
)

func mustMarshal(t *testing.T, n Node) string {
	t.Helper()
	b, err := MarshalNode(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestObjectPreservesEntryOrder(t *testing.T) {
	obj := Object{Entries: []ObjectEntry{
		{Key: "zebra", Value: Integer(1)},
		{Key: "apple", Value: Integer(2)},
		{Key: "mango", Value: Null{}},
	}}

	got := mustMarshal(t, obj)
	want := `{"zebra":1,"apple":2,"mango":null}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestFromGoValueScalars(t *testing.T) {
	cases := []struct {
		in   any
		want Node
	}{
		{nil, Null{}},
		{true, Boolean(true)},
		{int(7), Integer(7)},
		{int64(-3), Integer(-3)},
		{"hi", String("hi")},
	}
	for _, tc := range cases {
		got, err := FromGoValue(tc.in)
		if err != nil {
			t.Fatalf("FromGoValue(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("FromGoValue(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFromGoValueWholeFloatsBecomeIntegers(t *testing.T) {
	n, err := FromGoValue(float64(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != Integer(5) {
		t.Fatalf("expected Integer(5), got %#v", n)
	}

	n, err = FromGoValue(float64(5.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != Number(5.5) {
		t.Fatalf("expected Number(5.5), got %#v", n)
	}
}

func TestFromGoValueSortsMapKeys(t *testing.T) {
	n, err := FromGoValue(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustMarshal(t, n); got != `{"a":1,"b":2}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestFromGoValueRejectsUnknownTypes(t *testing.T) {
	if _, err := FromGoValue(make(chan int)); err == nil {
		t.Fatal("expected an error for a channel value")
	}
}

func TestDatatableMarshal(t *testing.T) {
	dt := Datatable{Columns: []DatatableColumn{
		{Name: "id", Validator: NodeTypeInteger, Values: []Node{Integer(1), Integer(2)}},
		{Name: "name", Validator: NodeTypeString, Values: []Node{String("a"), String("b")}},
	}}
	if dt.Rows() != 2 {
		t.Fatalf("expected 2 rows, got %d", dt.Rows())
	}

	var decoded struct {
		Type    string `json:"type"`
		Columns []struct {
			Type      string          `json:"type"`
			Name      string          `json:"name"`
			Validator string          `json:"validator"`
			Values    json.RawMessage `json:"values"`
		} `json:"columns"`
	}
	if err := json.Unmarshal([]byte(mustMarshal(t, dt)), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "Datatable" || len(decoded.Columns) != 2 {
		t.Fatalf("unexpected encoding: %+v", decoded)
	}
	if decoded.Columns[0].Name != "id" || decoded.Columns[0].Validator != "Integer" {
		t.Fatalf("unexpected first column: %+v", decoded.Columns[0])
	}
}

func TestImageObjectMarshal(t *testing.T) {
	img := ImageObject{ContentURL: "data:image/png;base64,AAAA", MediaType: "image/png"}
	got := mustMarshal(t, img)
	want := `{"type":"ImageObject","contentUrl":"data:image/png;base64,AAAA","mediaType":"image/png"}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
