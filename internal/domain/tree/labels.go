package tree

// Label names a quality dimension a worker can score in [0,1].
type Label string

const (
	LabelSpam           Label = "spam"
	LabelLangMismatch   Label = "lang_mismatch"
	LabelQuality        Label = "quality"
	LabelToxicity       Label = "toxicity"
	LabelHumor          Label = "humor"
	LabelCreativity     Label = "creativity"
	LabelViolence       Label = "violence"
	LabelNotAppropriate Label = "not_appropriate"
	LabelPII            Label = "pii"
	LabelHateSpeech     Label = "hate_speech"
	LabelSexualContent  Label = "sexual_content"
	LabelHelpfulness    Label = "helpfulness"
)

// AppendMissing returns labels extended by each of extra that is not already
// present. Order of the existing labels is preserved.
func AppendMissing(labels []Label, extra ...Label) []Label {
	out := append([]Label(nil), labels...)
	for _, e := range extra {
		found := false
		for _, l := range out {
			if l == e {
				found = true
				break
			}
		}
		if !found {
			out = append(out, e)
		}
	}
	return out
}
