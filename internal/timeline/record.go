// Package timeline archives the per-tick records of a simulation run.
package timeline

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/davecgh/go-xdr/xdr"
)

// Record is the event record emitted once per tick.
type Record struct {
	Tick       int64  `json:"tick"`
	Hub        string `json:"hub,omitempty"` // empty when no node holds the slot
	Generation uint64 `json:"generation"`
	Orphans    int32  `json:"orphans"`
	Live       int32  `json:"live"`
	Hubs       int32  `json:"hubs"`
	Sent       int32  `json:"sent"`
	Delivered  int32  `json:"delivered"`
	InFlight   int32  `json:"inFlight"`
	Churn      bool   `json:"churn"`
}

func (r Record) String() string {
	hub := r.Hub
	if hub == "" {
		hub = "none"
	}
	return fmt.Sprintf("T=%d hub=%s orphans=%d live=%d sent=%d delivered=%d",
		r.Tick, hub, r.Orphans, r.Live, r.Sent, r.Delivered)
}

func encodeKey(tick int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(tick))
	return k[:]
}

func encodeRecord(r Record) ([]byte, error) {
	return xdr.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if _, err := xdr.Unmarshal(bytes.Clone(data), &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
