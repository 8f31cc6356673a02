package buffer

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"time"
)

// Reading is one buffered measurement awaiting publication.
type Reading struct {
	Timestamp  time.Time `json:"timestamp" cbor:"1,keyasint"`
	DeviceID   string    `json:"device_id" cbor:"2,keyasint"`
	ZoneID     string    `json:"zone_id,omitempty" cbor:"3,keyasint,omitempty"`
	SubzoneID  string    `json:"subzone_id,omitempty" cbor:"4,keyasint,omitempty"`
	GPIO       int       `json:"gpio" cbor:"5,keyasint"`
	SensorType string    `json:"sensor_type" cbor:"6,keyasint"`
	Value      float64   `json:"value" cbor:"7,keyasint"`
	SensorName string    `json:"sensor_name,omitempty" cbor:"8,keyasint,omitempty"`
	Checksum   uint32    `json:"-" cbor:"9,keyasint"`
}

// ComputeChecksum returns the CRC-32 (IEEE) of every field except Checksum.
// Strings are length-prefixed so adjacent fields cannot alias.
func (r Reading) ComputeChecksum() uint32 {
	h := crc32.NewIEEE()
	var scratch [8]byte

	putInt := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:]) //nolint:errcheck // hash writes never fail
	}
	putString := func(s string) {
		putInt(uint64(len(s)))
		h.Write([]byte(s)) //nolint:errcheck // hash writes never fail
	}

	putInt(uint64(r.Timestamp.UnixNano()))
	putString(r.DeviceID)
	putString(r.ZoneID)
	putString(r.SubzoneID)
	putInt(uint64(int64(r.GPIO)))
	putString(r.SensorType)
	putInt(math.Float64bits(r.Value))
	putString(r.SensorName)
	return h.Sum32()
}

// Verify reports whether the stored checksum matches the fields.
func (r Reading) Verify() bool {
	return r.Checksum == r.ComputeChecksum()
}
