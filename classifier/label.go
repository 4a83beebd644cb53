package classifier

// labelRow is one row of the feedback label table.
type labelRow struct {
	original, correct, productive bool
}

// labelTable maps (original prediction, user said correct) to the label
// stored as ground truth. Correct feedback confirms the prediction and
// incorrect feedback flips it; the rows are spelled out on purpose.
var labelTable = []labelRow{
	{original: false, correct: true, productive: false},
	{original: false, correct: false, productive: true},
	{original: true, correct: true, productive: true},
	{original: true, correct: false, productive: false},
}

// DeriveLabel looks up the is_productive label for a feedback click. A nil
// input is outside the table: the result is false with ErrUnexpectedFeedback,
// and callers log it and still submit.
func DeriveLabel(originalPrediction, isCorrect *bool) (bool, error) {
	if originalPrediction == nil || isCorrect == nil {
		return false, ErrUnexpectedFeedback
	}
	for _, row := range labelTable {
		if row.original == *originalPrediction && row.correct == *isCorrect {
			return row.productive, nil
		}
	}
	return false, ErrUnexpectedFeedback
}
