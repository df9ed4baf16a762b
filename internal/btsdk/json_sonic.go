//go:build sonic

package btsdk

import (
	"github.com/bytedance/sonic"
)

// for imroc/req
var jsonMarshal = sonic.Marshal
var jsonUnmarshal = sonic.Unmarshal

var numberAPI = sonic.Config{UseNumber: true}.Froze()

func decodeNumbers(data []byte, v any) error {
	return numberAPI.Unmarshal(data, v)
}
