package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/temirov/auditgate/internal/evidence"
)

// GenesisHash anchors the first item of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const itemSerializationErrorTemplateConstant = "unable to serialize evidence item %s: %w"

// ComputeItemHash returns SHA256(serialize(item without hash) || previousHash).
func ComputeItemHash(item evidence.Item) (string, error) {
	hashInput := item
	hashInput.Hash = ""
	serialized, marshalError := json.Marshal(hashInput)
	if marshalError != nil {
		return "", fmt.Errorf(itemSerializationErrorTemplateConstant, item.ID, marshalError)
	}
	hasher := sha256.New()
	hasher.Write(serialized)
	hasher.Write([]byte(item.PreviousHash))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// PayloadDigest returns the content address of a payload.
func PayloadDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
