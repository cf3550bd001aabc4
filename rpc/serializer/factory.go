package serializer

import "fmt"

// Names lists the serializers accepted by ByName
var Names = []string{"msgpack", "msgpack-json"}

// ByName returns the serializer registered under name
func ByName(name string) (IRPCSerializer, error) {
	switch name {
	case "msgpack", "":
		return NewMsgpackSerializer(), nil
	case "msgpack-json":
		return NewMsgpackJSONTagSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s (expected one of %v)", name, Names)
	}
}
