package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Server to client message types.
const (
	MsgInitialData       = "initial_data"
	MsgCellUpdate        = "cell_update"
	MsgColumnOrderUpdate = "column_order_update"
	MsgSymbolOrderUpdate = "symbol_order_update"
	MsgMasterStateUpdate = "master_state_update"
	MsgSymbolAdded       = "symbol_added"
)

// Client to server message types. A message without a type is a cell update.
const (
	ClientColumnOrder = "column_order"
	ClientSymbolOrder = "symbol_order"
	ClientMasterState = "master_state"
)

// InitialDataMessage is sent once to each session right after it connects.
type InitialDataMessage struct {
	Type         string              `json:"type"`
	CellData     CellData            `json:"cell_data"`
	ColumnOrders map[string][]string `json:"column_orders"`
	SymbolOrders map[string][]string `json:"symbol_orders"`
	MasterMaker  Toggle              `json:"master_maker"`
	MasterTaker  Toggle              `json:"master_taker"`
}

// CellUpdateMessage carries the full cell snapshot after a tick or override.
type CellUpdateMessage struct {
	Type     string   `json:"type"`
	CellData CellData `json:"cell_data"`
}

// OrderUpdateMessage announces a column or symbol ordering change.
type OrderUpdateMessage struct {
	Type   string   `json:"type"`
	UserID string   `json:"user_id"`
	Order  []string `json:"order"`
}

// MasterStateMessage announces the master toggles.
type MasterStateMessage struct {
	Type string `json:"type"`
	MasterState
}

// SymbolAddedMessage announces a newly created symbol.
type SymbolAddedMessage struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Description *string `json:"description"`
}

// ClientMessage is the union of every inbound WebSocket message.
type ClientMessage struct {
	Type        string          `json:"type"`
	UserID      string          `json:"user_id"`
	Order       []string        `json:"order"`
	MasterMaker *string         `json:"master_maker"`
	MasterTaker *string         `json:"master_taker"`
	Symbol      string          `json:"symbol"`
	CellID      string          `json:"cell_id"`
	Value       json.RawMessage `json:"value"`
}

// CellValue flattens a JSON cell value to the raw text an override parses.
// null, an absent value and "" all become "" which means "remove my override".
func CellValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(raw)
}
