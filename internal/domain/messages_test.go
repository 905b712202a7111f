package domain

import (
	"encoding/json"
	"testing"
)

func TestCellValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"absent", "", ""},
		{"null", "null", ""},
		{"integer", "42", "42"},
		{"float", "101.25", "101.25"},
		{"string toggle", `"ON"`, "ON"},
		{"empty string", `""`, ""},
		{"padded string", `" 7 "`, "7"},
		{"bool", "true", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CellValue(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("CellValue(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClientMessage_Decode(t *testing.T) {
	var msg ClientMessage
	data := `{"symbol":"TYM5","cell_id":"bid_q","value":42,"user_id":"alice"}`
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Type != "" {
		t.Errorf("bare cell update should have empty type, got %q", msg.Type)
	}
	if CellValue(msg.Value) != "42" {
		t.Errorf("value = %q, want 42", CellValue(msg.Value))
	}

	var master ClientMessage
	if err := json.Unmarshal([]byte(`{"type":"master_state","master_taker":"ON"}`), &master); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if master.MasterMaker != nil {
		t.Error("master_maker should be absent")
	}
	if master.MasterTaker == nil || *master.MasterTaker != "ON" {
		t.Errorf("master_taker = %v, want ON", master.MasterTaker)
	}
}
