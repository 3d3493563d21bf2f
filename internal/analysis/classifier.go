package analysis

import (
	"strings"

	"auditdesk/pkg/domain"
)

// Classify picks the extraction template from filename and mime type.
// Rules run in order; the first match wins and anything unrecognized falls
// through to the generic category.
func Classify(filename, mimeType string) domain.DocumentCategory {
	name := strings.ToLower(filename)
	mime := strings.ToLower(mimeType)

	switch {
	case containsAny(name, "invoice", "faktura", "rechnung"):
		return domain.CategoryInvoice
	case containsAny(name, "receipt", "kvitto", "quittung"):
		return domain.CategoryReceipt
	case containsAny(name, "balance", "income", "cashflow", "annual_report", "annual-report", "financial"):
		return domain.CategoryFinancialStatement
	case containsAny(name, "bank", "statement", "kontoutdrag"):
		return domain.CategoryBankStatement
	case containsAny(name, "contract", "agreement", "avtal"):
		return domain.CategoryContract
	case strings.Contains(mime, "spreadsheet"), mime == "text/csv", mime == "application/vnd.ms-excel":
		// tabular files without a telling name are most often ledgers
		return domain.CategoryBankStatement
	default:
		return domain.CategoryGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
