// Package drift compares a contract's declared schema file against its
// last recorded hash, classifying the comparison and computing a
// top-level field diff when the schema has changed.
package drift

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jcfischer/pai-deps/internal/canon"
	"github.com/jcfischer/pai-deps/internal/store"
)

// Classification enumerates the drift comparison outcomes.
type Classification string

const (
	ClassNew       Classification = "new"
	ClassMissing   Classification = "missing"
	ClassError     Classification = "error"
	ClassUnchanged Classification = "unchanged"
	ClassDrift     Classification = "drift"
)

// FieldDiff is the symmetric difference of top-level object keys
// between the previously-loaded schema and the current one.
type FieldDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Result is the outcome of checking one contract for drift.
type Result struct {
	ContractID  string
	Class       Classification
	CurrentHash string
	FieldDiff   *FieldDiff
	// CurrentContent is the raw bytes the schema was read as (nil when
	// Class is ClassMissing or ClassError). A caller that persists this
	// result via Update should pass it along as currentContent so the
	// next Check call can diff against it.
	CurrentContent []byte
}

// Check resolves contract.SchemaPath against toolPath, computes its
// current canonical hash, and classifies it against contract.SchemaHash.
// previousContent is the raw bytes of the schema as it was the last time
// the hash was recorded (contract.SchemaContent, persisted by a prior
// Update call); pass nil if unavailable (the field diff is then omitted
// even on a detected drift).
func Check(contract store.Contract, toolPath string, previousContent []byte) Result {
	result := Result{ContractID: contract.ID}

	if contract.SchemaPath == "" {
		result.Class = ClassError
		return result
	}

	resolved := contract.SchemaPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(toolPath, contract.SchemaPath)
	}

	data, err := os.ReadFile(resolved)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		result.Class = ClassError
		return result
	}

	switch {
	case contract.SchemaHash == "" && missing:
		result.Class = ClassError
		return result
	case contract.SchemaHash == "" && !missing:
		hash, herr := canon.HashBytes(data)
		if herr != nil {
			result.Class = ClassError
			return result
		}
		result.Class = ClassNew
		result.CurrentHash = hash
		result.CurrentContent = data
		return result
	case contract.SchemaHash != "" && missing:
		result.Class = ClassMissing
		return result
	}

	hash, err := canon.HashBytes(data)
	if err != nil {
		result.Class = ClassError
		return result
	}
	result.CurrentHash = hash
	result.CurrentContent = data

	if hash == contract.SchemaHash {
		result.Class = ClassUnchanged
		return result
	}

	result.Class = ClassDrift
	if previousContent != nil {
		if fd := fieldDiff(previousContent, data); fd != nil {
			result.FieldDiff = fd
		}
	}
	return result
}

// fieldDiff computes the symmetric difference of top-level object keys
// between old and new JSON documents. Returns nil if either document is
// not a JSON object.
func fieldDiff(oldData, newData []byte) *FieldDiff {
	oldKeys, ok := topLevelKeys(oldData)
	if !ok {
		return nil
	}
	newKeys, ok := topLevelKeys(newData)
	if !ok {
		return nil
	}

	var added, removed []string
	for k := range newKeys {
		if !oldKeys[k] {
			added = append(added, k)
		}
	}
	for k := range oldKeys {
		if !newKeys[k] {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return &FieldDiff{Added: added, Removed: removed}
}

func topLevelKeys(data []byte) (map[string]bool, bool) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	keys := make(map[string]bool, len(v))
	for k := range v {
		keys[k] = true
	}
	return keys, true
}

// Update persists the newly computed hash and raw schema content on the
// contract and records a Verification row, only when the caller
// explicitly requests it (the "update" mode of spec.md §4.10 step 4).
// Persisting currentContent is what lets the *next* Check call produce
// a field diff: it becomes that call's previousContent.
func Update(ctx context.Context, s *store.Store, result Result, currentContent []byte, verifiedAt time.Time) error {
	status := store.ContractStatusValid
	verificationStatus := store.VerificationPass
	if result.Class == ClassDrift {
		status = store.ContractStatusDrift
		verificationStatus = store.VerificationDrift
	}

	if err := s.UpdateContractSchema(ctx, s.DB(), result.ContractID, result.CurrentHash, currentContent, status, verifiedAt); err != nil {
		return err
	}

	details, err := json.Marshal(struct {
		Class     Classification `json:"class"`
		FieldDiff *FieldDiff      `json:"field_diff,omitempty"`
	}{Class: result.Class, FieldDiff: result.FieldDiff})
	if err != nil {
		details = []byte("{}")
	}

	return s.InsertVerification(ctx, s.DB(), store.Verification{
		ID:         uuid.NewString(),
		ContractID: result.ContractID,
		VerifiedAt: verifiedAt,
		Status:     verificationStatus,
		Details:    string(details),
	})
}
