package docstore

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Key prefixes. Access keys are ASCII alphanumerics, so 0x00 is a safe
// separator inside composite keys.
const (
	recordPrefix byte = 0x01 // [prefix | type | accessKey] -> record
	rawPrefix    byte = 0x10 // [prefix | type | accessKey] -> s2(raw xml)
	datePrefix   byte = 0x20 // [prefix | issueDate(8) | type | accessKey]
	refPrefix    byte = 0x31 // [prefix | referencedKey | 0x00 | type | eventKey]
	systemPrefix byte = 0xFF
)

const dateSize = 8

var (
	keySchemaVersion = []byte{systemPrefix, 0x01}
	keySequence      = []byte{systemPrefix, 0x02}
)

// noDate sorts documents without an issue date after every dated one.
const noDate = math.MaxUint64

func encodeRecordKey(k fiscal.Key) []byte {
	return typedKey(recordPrefix, k)
}

func encodeRawKey(k fiscal.Key) []byte {
	return typedKey(rawPrefix, k)
}

func typedKey(prefix byte, k fiscal.Key) []byte {
	key := make([]byte, 0, 2+len(k.AccessKey))
	key = append(key, prefix, byte(k.Type))
	return append(key, k.AccessKey...)
}

// decodeTypedKey reverses typedKey.
func decodeTypedKey(key []byte) fiscal.Key {
	return fiscal.Key{Type: fiscal.DocumentType(key[1]), AccessKey: string(key[2:])}
}

// dateStamp maps a time to an order-preserving uint64. BigEndian keeps
// lexicographic order equal to chronological order.
func dateStamp(t *time.Time) uint64 {
	if t == nil {
		return noDate
	}
	return uint64(t.UnixNano()) ^ (1 << 63)
}

func encodeDateKey(stamp uint64, k fiscal.Key) []byte {
	key := make([]byte, 1+dateSize+1+len(k.AccessKey))
	key[0] = datePrefix
	binary.BigEndian.PutUint64(key[1:9], stamp)
	key[9] = byte(k.Type)
	copy(key[10:], k.AccessKey)
	return key
}

// encodeDateBound returns the first (or, with high set, past the last) key
// for a timestamp.
func encodeDateBound(stamp uint64, high bool) []byte {
	key := make([]byte, 1+dateSize, 1+dateSize+1)
	key[0] = datePrefix
	binary.BigEndian.PutUint64(key[1:9], stamp)
	if high {
		key = append(key, 0xFF)
	}
	return key
}

func decodeDateKey(key []byte) (uint64, fiscal.Key) {
	stamp := binary.BigEndian.Uint64(key[1:9])
	return stamp, fiscal.Key{Type: fiscal.DocumentType(key[9]), AccessKey: string(key[10:])}
}

func encodeRefPrefix(referenced string) []byte {
	key := make([]byte, 0, 2+len(referenced))
	key = append(key, refPrefix)
	key = append(key, referenced...)
	return append(key, 0x00)
}

func encodeRefKey(referenced string, event fiscal.Key) []byte {
	key := encodeRefPrefix(referenced)
	key = append(key, byte(event.Type))
	return append(key, event.AccessKey...)
}

func decodeRefKey(key []byte, prefixLen int) fiscal.Key {
	return fiscal.Key{Type: fiscal.DocumentType(key[prefixLen]), AccessKey: string(key[prefixLen+1:])}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// baseTypesFor lists the document types an event's referenced key can
// point at, using the model digits embedded in the key.
func baseTypesFor(accessKey string) []fiscal.DocumentType {
	if len(accessKey) != 44 {
		return []fiscal.DocumentType{fiscal.Invoice, fiscal.ConsumerInvoice, fiscal.FreightManifest, fiscal.TransportManifest}
	}
	switch accessKey[20:22] {
	case "55":
		return []fiscal.DocumentType{fiscal.Invoice}
	case "65":
		return []fiscal.DocumentType{fiscal.ConsumerInvoice}
	case "57", "67":
		return []fiscal.DocumentType{fiscal.FreightManifest}
	case "58":
		return []fiscal.DocumentType{fiscal.TransportManifest}
	default:
		return []fiscal.DocumentType{fiscal.Invoice, fiscal.ConsumerInvoice, fiscal.FreightManifest, fiscal.TransportManifest}
	}
}
