// Package codec encodes published transactions into the wire envelope the
// inter-DC transport carries. The envelope pairs a transaction with the
// destination datacenter so subscriber-side decoders can route it.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/devrev/pairdb/interdc-node/internal/model"
)

// Envelope is one published message: a transaction addressed to a peer DC.
type Envelope struct {
	DCID model.DCID `json:"dcid"`
	Txn  model.Txn  `json:"txn"`
}

// Encode serializes a transaction for the given destination datacenter.
func Encode(txn model.Txn, dcid model.DCID) ([]byte, error) {
	data, err := json.Marshal(Envelope{DCID: dcid, Txn: txn})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode is the symmetric counterpart of Encode. CCRDT operation payloads
// decode to generic JSON values; interpreting them is the receiving type
// implementation's job.
func Decode(data []byte) (model.Txn, model.DCID, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Txn{}, "", fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env.Txn, env.DCID, nil
}
