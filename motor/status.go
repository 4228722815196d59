package motor

import "encoding/json"

// Status is a snapshot of a driver for reporting. Fields holds the driver specific values; they
// are flattened next to the common ones when marshaled.
type Status struct {
	Slot     int
	Type     Type
	TypeName string
	Enabled  bool
	Moving   bool
	Position int32
	Speed    float64
	Error    string
	Fields   map[string]interface{}
}

// Map returns the flattened representation.
func (s Status) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Fields)+8)
	for k, v := range s.Fields {
		out[k] = v
	}
	out["slot"] = s.Slot
	out["type"] = int(s.Type)
	out["typeName"] = s.TypeName
	out["enabled"] = s.Enabled
	out["moving"] = s.Moving
	out["position"] = s.Position
	out["speed"] = s.Speed
	out["error"] = s.Error
	return out
}

// MarshalJSON encodes the flattened representation.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}
