package ipc

import (
	"bytes"
	"testing"

	"github.com/ajolex/surveycto-vc-agent/types"
)

func benchmarkDecodeStage(b *testing.B, c Codec) {
	raw, err := EncodeMessage(c, &types.StageDeployment{
		FileBlob: bytes.Repeat([]byte{0x42}, 256*1024),
		FileName: "survey.xlsx",
		FormID:   "survey",
	})
	if err != nil {
		b.Fatalf("EncodeMessage: %v", err)
	}
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for range b.N {
		if _, err := DecodeMessage(c, raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeStage_JSON(b *testing.B)    { benchmarkDecodeStage(b, JSON) }
func BenchmarkDecodeStage_Msgpack(b *testing.B) { benchmarkDecodeStage(b, Msgpack) }
