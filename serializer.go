package signalr

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer encodes and decodes wire payloads. The server core does not
// prescribe a JSON library; any encoder with these semantics can be plugged in.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer is the default Serializer, backed by encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// MessagePackSerializer encodes payloads as MessagePack. It is used for
// compact backplane traffic between server instances.
type MessagePackSerializer struct{}

func (MessagePackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MessagePackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
