package qa

import (
	"auditdesk/pkg/domain"
)

const maxSuggestions = 8

// Suggest builds starter questions from what the project actually contains,
// so the first thing a reviewer sees is grounded in their own documents.
func (s *Service) Suggest(user domain.User, projectID string) ([]string, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return nil, err
	}
	analyses, err := s.store.ListAnalysesByProject(projectID)
	if err != nil {
		return nil, err
	}
	return suggestFromAnalyses(analyses), nil
}

func suggestFromAnalyses(analyses []domain.AnalysisResult) []string {
	var out []string
	add := func(q string) {
		if len(out) >= maxSuggestions {
			return
		}
		for _, existing := range out {
			if existing == q {
				return
			}
		}
		out = append(out, q)
	}

	redFlags := 0
	categories := map[domain.DocumentCategory]bool{}
	for _, a := range analyses {
		redFlags += len(a.RedFlags)
		categories[a.Category] = true
	}

	if redFlags > 0 {
		add("Which documents raised red flags, and why?")
		add("Which red flag should be investigated first?")
	}
	if categories[domain.CategoryInvoice] {
		add("Are there invoices past their due date?")
		add("What is the total invoiced amount across vendors?")
	}
	if categories[domain.CategoryBankStatement] {
		add("Are there unusual transactions in the bank statements?")
	}
	if categories[domain.CategoryFinancialStatement] {
		add("Do the financial statements show any unexpected swings?")
	}
	if categories[domain.CategoryContract] {
		add("Which contracts contain renewal or termination deadlines?")
	}
	if len(analyses) > 0 {
		add("Summarize the key findings across all documents.")
	}
	if out == nil {
		out = []string{}
	}
	return out
}
