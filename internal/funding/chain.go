package funding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/noah-isme/ruralfund-api/internal/models"
)

// GenesisHash is the PrevHash of the first decision of every project.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashDecision computes the chained hash of a decision. Each field is length
// prefixed so free text such as the reason cannot collide across fields.
func HashDecision(d models.ApprovalDecision) string {
	h := sha256.New()
	for _, field := range []string{
		d.PrevHash,
		d.ID,
		d.ProjectID,
		d.ClaimID,
		strconv.FormatInt(d.Sequence, 10),
		string(d.Outcome),
		d.DeciderID,
		d.Reason,
		strconv.FormatInt(d.Amount.Amount(), 10),
		d.Amount.Currency(),
		d.DecidedAt.UTC().Format(time.RFC3339Nano),
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field string) {
	fmt.Fprintf(h, "%d:%s;", len(field), field)
}

// VerifyChain recomputes a project's decision chain in sequence order.
func VerifyChain(projectID string, decisions []models.ApprovalDecision) models.ChainVerification {
	result := models.ChainVerification{ProjectID: projectID, Length: len(decisions), Valid: true}
	prev := GenesisHash
	for i, d := range decisions {
		expectedSeq := int64(i + 1)
		if d.ProjectID != projectID || d.Sequence != expectedSeq || d.PrevHash != prev || HashDecision(d) != d.Hash {
			result.Valid = false
			result.BrokenAt = &expectedSeq
			return result
		}
		prev = d.Hash
	}
	if len(decisions) > 0 {
		result.HeadHash = prev
	}
	return result
}

func chainHead(decisions []models.ApprovalDecision) string {
	if len(decisions) == 0 {
		return GenesisHash
	}
	return decisions[len(decisions)-1].Hash
}
