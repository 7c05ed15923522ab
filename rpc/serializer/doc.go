// Package serializer provides the encodings used by the Ice RPC core. It covers two
// levels: whole request and reply messages, and the parameters of a single operation.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all message serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format that encodes only the fields present in a
//     message using a flag word. It produces the smallest payloads and is the default.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or tracing traffic.
//
//   - gobSerializerImpl: Go's gob encoding. Works, but is larger and slower than Binary.
//
//   - OutputStream / InputStream: Encode and decode the opaque Params of a request or reply.
//     Values that do not fit their wire type are rejected with a *common.MarshalError
//     before anything is written.
//
// Thread Safety:
//
//	Message serializers are stateless and safe for concurrent use. Streams are not,
//	each invocation uses its own.
//
// Usage:
//
//	s, _ := serializer.ByName("binary")
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(data, &received)
//
//	out := serializer.NewOutputStream()
//	if err := out.WriteString("hello"); err != nil { ... }
//	req := common.NewRequest(id, "", "sayHello", common.ModeNormal, nil, out.Bytes())
package serializer
