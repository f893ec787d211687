package gearboxjson

import (
	"encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
	jsoniter "github.com/json-iterator/go"
)

// UseSonic is true on platforms where sonic's JIT is available.
const UseSonic = runtime.GOARCH == "amd64" && runtime.GOOS == "linux"

// RawMessage is a raw encoded JSON value understood by both encoders.
type RawMessage = json.RawMessage

func Unmarshal(data []byte, v any) error {
	if UseSonic {
		return sonic.Unmarshal(data, v)
	}

	return jsoniter.Unmarshal(data, v)
}

func UnmarshalReader(reader io.Reader, v any) error {
	if UseSonic {
		return sonic.ConfigDefault.NewDecoder(reader).Decode(v)
	}

	return jsoniter.NewDecoder(reader).Decode(v)
}

func Marshal(v any) ([]byte, error) {
	if UseSonic {
		return sonic.Marshal(v)
	}

	return jsoniter.Marshal(v)
}

func MarshalToWriter(writer io.Writer, v any) error {
	if UseSonic {
		return sonic.ConfigDefault.NewEncoder(writer).Encode(v)
	}

	return jsoniter.NewEncoder(writer).Encode(v)
}
