package json

import (
	"testing"
)

type sampleDoc struct {
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Secret string `json:"secret,omitempty"`
}

func TestMarshal(t *testing.T) {
	doc := sampleDoc{Name: "acme", Count: 3}

	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"name":"acme","count":3}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestUnmarshal(t *testing.T) {
	var doc sampleDoc
	if err := Unmarshal([]byte(`{"name":"acme","count":7}`), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if doc.Name != "acme" || doc.Count != 7 {
		t.Errorf("Unmarshal() = %+v", doc)
	}
}

func TestMarshalToString(t *testing.T) {
	s, err := MarshalToString(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("MarshalToString() error = %v", err)
	}
	if s != `{"k":"v"}` {
		t.Errorf("MarshalToString() = %s", s)
	}
}
