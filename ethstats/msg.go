package ethstats

import (
	"encoding/json"
	"fmt"
)

// Msg is an emitter event, encoded as {"emit": [typ, payload]}.
type Msg struct {
	typ string
	msg map[string]json.RawMessage
}

// NewMsg encodes payload, which has to be encoded as a json object, into an event.
func NewMsg(typ string, payload interface{}) (*Msg, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m := &Msg{typ: typ}
	if err := json.Unmarshal(data, &m.msg); err != nil {
		return nil, fmt.Errorf("payload for '%s' is not an object: %v", typ, err)
	}
	return m, nil
}

func (m *Msg) Marshal() ([]byte, error) {
	var data interface{} = m.msg
	if m.msg == nil {
		data = struct{}{}
	}
	val := map[string]interface{}{
		"emit": []interface{}{
			m.typ,
			data,
		},
	}
	return json.Marshal(val)
}

func DecodeMsg(message []byte) (*Msg, error) {
	var msg struct {
		Emit []json.RawMessage
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if len(msg.Emit) != 1 && len(msg.Emit) != 2 {
		return nil, fmt.Errorf("1 or 2 items expected")
	}

	// decode typename as string
	var typName string
	if err := json.Unmarshal(msg.Emit[0], &typName); err != nil {
		return nil, fmt.Errorf("failed to decode type: %v", err)
	}

	m := &Msg{
		typ: typName,
	}
	if len(msg.Emit) == 2 {
		// decode data
		if err := json.Unmarshal(msg.Emit[1], &m.msg); err != nil {
			return nil, fmt.Errorf("failed to decode data: %v", err)
		}
	}
	return m, nil
}

func (m *Msg) msgType() string {
	return m.typ
}
