// Package plist wraps howett.net/plist to implement the byte-stream ↔
// tagged-value-tree contract the AirPlay HTTP server needs: decoding both
// binary and XML property lists, and encoding responses as XML plist with
// the AirPlay content type.
package plist

import (
	"bytes"
	"fmt"

	"howett.net/plist"
)

// ContentTypeXML and ContentTypeBinary are the two AirPlay plist content
// types the HTTP server must recognize on request bodies and set on
// responses.
const (
	ContentTypeXML    = "text/x-apple-plist+xml"
	ContentTypeBinary = "application/x-apple-binary-plist"
)

// Decode parses a plist byte stream (binary or XML, auto-detected) into v,
// which should be a pointer to a map or struct matching the plist's shape.
func Decode(data []byte, v interface{}) error {
	_, err := plist.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("plist: decode: %w", err)
	}
	return nil
}

// EncodeXML renders v as an XML property list.
func EncodeXML(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("plist: encode xml: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBinary renders v as a binary property list.
func EncodeBinary(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewBinaryEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("plist: encode binary: %w", err)
	}
	return buf.Bytes(), nil
}
