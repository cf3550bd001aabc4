package serializer

import (
	"strings"
	"testing"
)

// benchmarkValues returns a set of argument shapes for targeted benchmarking
func benchmarkValues() map[string]interface{} {
	return map[string]interface{}{
		"Nil":         nil,
		"SmallInt":    7,
		"ShortString": "k",
		"LongString":  strings.Repeat("medium-length-key-for-testing", 8),
		"SmallBinary": []byte("v"),
		"LargeBinary": make([]byte, 1024*16),
		"Struct":      point{X: 10000, Y: 20000, L: "complete-test-key"},
		"Args":        []interface{}{"echo", 42, []byte("payload"), map[string]interface{}{"k": "v"}},
	}
}

// BenchmarkMarshal measures encoding cost per value shape
func BenchmarkMarshal(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for valueName, v := range benchmarkValues() {
			b.Run(name+"/"+valueName, func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := s.Marshal(v); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkUnmarshal measures decoding cost into interface{} targets
func BenchmarkUnmarshal(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for valueName, v := range benchmarkValues() {
			data, err := s.Marshal(v)
			if err != nil {
				b.Fatal(err)
			}
			b.Run(name+"/"+valueName, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(data)))
				for i := 0; i < b.N; i++ {
					var out interface{}
					if err := s.Unmarshal(data, &out); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
