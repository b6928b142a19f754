package matching

import "github.com/kardex-io/kardex/internal/models"

// DiagnoseIdentity compares an already-assigned employee's passport against
// the one extracted from the card. Only VALUE_DIFF is a mismatch; it flags
// the card for review but never blocks approval. A nil return means the
// identifiers agree in raw form too and there is nothing to report.
func DiagnoseIdentity(assignedRaw, assignedNormalized, extractedRaw, extractedNormalized string) *models.IdentityDiagnostics {
	if extractedNormalized == "" {
		return &models.IdentityDiagnostics{
			Reason:             models.IdentityNoExtractedID,
			IsMismatch:         false,
			AssignedNormalized: assignedNormalized,
		}
	}
	if assignedNormalized == "" {
		return &models.IdentityDiagnostics{
			Reason:              models.IdentityNoAssignedID,
			IsMismatch:          false,
			ExtractedNormalized: extractedNormalized,
		}
	}
	if assignedNormalized == extractedNormalized {
		if assignedRaw == extractedRaw {
			return nil
		}
		return &models.IdentityDiagnostics{
			Reason:              models.IdentityFormatOnlyDiff,
			IsMismatch:          false,
			AssignedNormalized:  assignedNormalized,
			ExtractedNormalized: extractedNormalized,
		}
	}
	return &models.IdentityDiagnostics{
		Reason:              models.IdentityValueDiff,
		IsMismatch:          true,
		AssignedNormalized:  assignedNormalized,
		ExtractedNormalized: extractedNormalized,
	}
}
