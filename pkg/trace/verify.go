package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // -1 if no break
	ChainHash  string
	Error      string
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks that every line's prev_hash matches the hash of the line
// before it, and that a closing scenario_completed carries the chain hash.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	expected := genesisHash
	count := 0
	var last Event

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return &VerifyResult{EventCount: count, BrokenAt: count,
				Error: fmt.Sprintf("event %d: invalid JSON: %v", count, err)}, nil
		}
		if evt.PrevHash != expected {
			return &VerifyResult{EventCount: count, BrokenAt: count,
				Error: fmt.Sprintf("event %d: prev_hash mismatch (expected %.16s..., got %.16s...)", count, expected, evt.PrevHash)}, nil
		}
		if evt.Type == EventScenarioCompleted {
			if ch := evt.String("chain_hash"); ch != "" && ch != expected {
				return &VerifyResult{EventCount: count, BrokenAt: count,
					Error: fmt.Sprintf("event %d: chain_hash does not match the chain", count)}, nil
			}
		}

		sum := sha256.Sum256(line)
		expected = hex.EncodeToString(sum[:])
		last = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	return &VerifyResult{
		EventCount: count,
		Valid:      true,
		BrokenAt:   -1,
		ChainHash:  last.String("chain_hash"),
	}, nil
}
