package manager

import "github.com/arborworks/arbor/internal/domain/tree"

// Acceptance scores a message from its label submissions:
// 1 - mean(spam) - mean(lang_mismatch). Missing label values count as 0.
// No submissions score 0.
func Acceptance(records []*tree.TextLabelsRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var spam, mismatch float64
	for _, r := range records {
		spam += r.Labels[tree.LabelSpam]
		mismatch += r.Labels[tree.LabelLangMismatch]
	}
	n := float64(len(records))
	return 1 - spam/n - mismatch/n
}

// acceptPrompt decides the quality gate for a root prompt.
func (m *TreeManager) acceptPrompt(records []*tree.TextLabelsRecord) bool {
	return Acceptance(records) > m.cfg.AcceptanceThresholdInitialPrompt
}

// acceptReply decides the quality gate for a reply.
func (m *TreeManager) acceptReply(records []*tree.TextLabelsRecord) bool {
	return Acceptance(records) > m.cfg.AcceptanceThresholdReply
}
