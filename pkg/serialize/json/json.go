// Package json is the default Serializer, backed by json-iterator/go for
// drop-in compatibility with encoding/json's struct tags at a lower
// allocation cost, the way the teacher's own json serializer is built.
package json

import (
	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Serializer implements serialize.Serializer over json-iterator/go.
type Serializer struct{}

// New builds a json Serializer.
func New() *Serializer { return &Serializer{} }

func (Serializer) Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

func (Serializer) Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}
