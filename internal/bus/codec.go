package bus

import (
	"fmt"

	"strategy_runtime/internal/models"

	"github.com/bytedance/sonic"
)

// dataField is the single stream field holding the serialized payload.
const dataField = "data"

func encodePayload(p models.Payload) (string, error) {
	b, err := sonic.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(values map[string]interface{}) (models.Payload, error) {
	raw, ok := values[dataField]
	if !ok {
		return nil, fmt.Errorf("decode payload: no %q field", dataField)
	}

	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return nil, fmt.Errorf("decode payload: unexpected %T in %q", raw, dataField)
	}

	var p models.Payload
	if err := sonic.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode payload: not an object")
	}
	return p, nil
}
