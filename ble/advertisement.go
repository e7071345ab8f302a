// Package ble implements the BLE Beacon component: encoding/decoding the
// AirDrop manufacturer-data advertisement and driving an abstract BleRadio
// to publish it and to scan for peers.
//
// The AD-structure TLV framing below is grounded on the link-layer
// advertising-PDU encoder used elsewhere in this corpus for BLE
// advertisements (type/length/data triples packed back to back, bounded by
// the 31-byte BLE 4.x advertising data limit).
package ble

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ServiceUUID is the 128-bit service UUID that identifies AirDrop peers.
var ServiceUUID = mustParseUUID("0000af0a-0000-1000-8000-00805f9b34fb")

// CompanyIDApple is Apple's Bluetooth SIG company identifier.
const CompanyIDApple uint16 = 0x004C

// Manufacturer-data sub-type/flags prefix fixed by the wire format.
const (
	manufacturerDataType  byte = 0x05
	manufacturerDataFlags byte = 0x01

	// identityHashPrefixLen is the number of raw identity-hash bytes
	// carried in the advertisement (8 bytes, not hex characters).
	identityHashPrefixLen = 8

	// MaxAdvertisingDataLen is the BLE 4.x advertising data limit.
	MaxAdvertisingDataLen = 31

	adTypeFlags                     = 0x01
	adTypeComplete16BitServiceUUID  = 0x03
	adTypeComplete128BitServiceUUID = 0x07
	adTypeShortenedLocalName        = 0x08
	adTypeCompleteLocalName         = 0x09
	adTypeManufacturerSpecificData  = 0xFF

	flagLEGeneralDiscoverable = 0x02
	flagBREDRNotSupported     = 0x04
)

// ADStructure is one TLV (length, type, data) element of an advertising
// data payload.
type ADStructure struct {
	Type byte
	Data []byte
}

// EncodeADStructures packs AD structures back to back: for each, a length
// byte (1 + len(Data)), the type byte, then the data.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("ble: AD structure too long: %d bytes", length)
		}
		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("ble: advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(buf))
	}
	return buf, nil
}

// DecodeADStructures parses an advertising data payload into its TLV
// elements.
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var out []ADStructure
	offset := 0
	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("ble: AD structure length exceeds data: length=%d remaining=%d", length, len(data)-offset)
		}
		adType := data[offset]
		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		out = append(out, ADStructure{Type: adType, Data: adData})
		offset += length
	}
	return out, nil
}

// BuildAdvertisementPayload constructs the full BLE advertising-data
// payload for the given hex-encoded identity hash: a flags AD, the AirDrop
// service UUID, and Apple manufacturer-specific data carrying
// [0x05][0x01][first 8 bytes of identity hash]. ServiceUUID is a Bluetooth
// base UUID, so it is carried in its 16-bit form (0xAF0A), which keeps the
// whole payload at 21 bytes.
func BuildAdvertisementPayload(identityHashHex string) ([]byte, error) {
	manufacturerPayload, err := ManufacturerData(identityHashHex)
	if err != nil {
		return nil, err
	}

	return EncodeADStructures([]ADStructure{
		{Type: adTypeFlags, Data: []byte{flagLEGeneralDiscoverable | flagBREDRNotSupported}},
		{Type: adTypeComplete16BitServiceUUID, Data: []byte{ServiceUUID[3], ServiceUUID[2]}},
		{Type: adTypeManufacturerSpecificData, Data: manufacturerPayload},
	})
}

// ManufacturerData builds the manufacturer-specific-data AD payload (company
// ID followed by the AirDrop sub-type/flags/hash prefix) for a hex-encoded
// identity hash.
func ManufacturerData(identityHashHex string) ([]byte, error) {
	raw, err := hex.DecodeString(identityHashHex)
	if err != nil {
		return nil, fmt.Errorf("ble: decode identity hash: %w", err)
	}
	if len(raw) < identityHashPrefixLen {
		return nil, fmt.Errorf("ble: identity hash too short: %d bytes", len(raw))
	}

	out := make([]byte, 2, 2+2+identityHashPrefixLen)
	binary.LittleEndian.PutUint16(out, CompanyIDApple)
	out = append(out, manufacturerDataType, manufacturerDataFlags)
	out = append(out, raw[:identityHashPrefixLen]...)
	return out, nil
}

// ClassifyFrame reports whether a received advertisement is an AirDrop peer:
// its service UUID matches ServiceUUID (in 128-bit or 16-bit form), or its
// manufacturer data carries
// Apple's company ID. It also returns the 8-byte identity-hash prefix and
// the advertised local name, when present.
func ClassifyFrame(advData []byte) (isPeer bool, hashPrefix []byte, localName string, err error) {
	structures, err := DecodeADStructures(advData)
	if err != nil {
		return false, nil, "", err
	}

	for _, s := range structures {
		if s.Type == adTypeComplete128BitServiceUUID && bytes.Equal(s.Data, ServiceUUID[:]) {
			isPeer = true
		}
		if s.Type == adTypeComplete16BitServiceUUID && bytes.Equal(s.Data, []byte{ServiceUUID[3], ServiceUUID[2]}) {
			isPeer = true
		}
		if s.Type == adTypeManufacturerSpecificData && len(s.Data) >= 2 {
			companyID := binary.LittleEndian.Uint16(s.Data[0:2])
			if companyID == CompanyIDApple {
				isPeer = true
				if len(s.Data) >= 2+2+identityHashPrefixLen {
					hashPrefix = append([]byte(nil), s.Data[4:4+identityHashPrefixLen]...)
				}
			}
		}
	}
	return isPeer, hashPrefix, LocalNameFromADStructures(structures), nil
}

// LocalNameFromADStructures returns the frame's advertised local name, if
// any: the Complete Local Name AD structure takes priority over a
// Shortened Local Name one, matching how most BLE stacks deduplicate the
// two when both are present.
func LocalNameFromADStructures(structures []ADStructure) string {
	var shortened string
	for _, s := range structures {
		switch s.Type {
		case adTypeCompleteLocalName:
			return string(s.Data)
		case adTypeShortenedLocalName:
			shortened = string(s.Data)
		}
	}
	return shortened
}

func mustParseUUID(s string) [16]byte {
	var out [16]byte
	clean := strings.ReplaceAll(s, "-", "")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != 16 {
		panic(errors.New("ble: invalid service UUID literal"))
	}
	copy(out[:], raw)
	return out
}
