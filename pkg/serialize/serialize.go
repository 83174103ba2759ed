// Package serialize defines the Serializer boundary spec §4.16 describes:
// Packet.Payload stays raw bytes at the C1/C2 core, and user-code Stage/Actor
// callbacks choose how to decode it. Grounded on the teacher's
// serialize.Serializer interface (json and protobuf implementations
// selectable per app).
package serialize

// Serializer marshals/unmarshals application payloads carried inside a
// frame/Packet's raw byte body.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}
