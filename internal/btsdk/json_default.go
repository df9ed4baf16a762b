//go:build !sonic

package btsdk

import (
	"bytes"

	"github.com/goccy/go-json"
)

// for imroc/req
var jsonMarshal = json.Marshal
var jsonUnmarshal = json.Unmarshal

// decodeNumbers keeps numeric row values as json.Number so ids and counters
// survive a pull/push round trip without float rounding.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
