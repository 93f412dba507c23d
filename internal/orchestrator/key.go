package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sells-group/target-signal/internal/resilience"
)

// CacheKey hashes the tool ID with its JSON-canonical params. encoding/json
// sorts map keys, so params equal as values produce equal keys.
func CacheKey(toolID string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", resilience.NewValidationError("params", "not serializable: "+err.Error())
	}
	h := sha256.New()
	h.Write([]byte(toolID))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
