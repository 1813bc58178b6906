package models

// Subject groups questions in the local question bank.
type Subject struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CreatedAt     string `json:"createdAt"`
	QuestionCount int    `json:"questionCount"`
}

// Question is one multiple-choice question.
type Question struct {
	ID              int64  `json:"id"`
	SubjectID       int64  `json:"subjectId"`
	Text            string `json:"text"`
	CorrectAnswerID int64  `json:"correctAnswerId"`
	CreatedAt       string `json:"createdAt"`
}

// Answer is one option of a question.
type Answer struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
}

// GameQuestion pairs a question with its answers in presentation order.
type GameQuestion struct {
	Question Question `json:"question"`
	Answers  []Answer `json:"answers"`
}

// IsCorrect reports whether answerID is the correct option.
func (q GameQuestion) IsCorrect(answerID int64) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return a.IsCorrect
		}
	}
	return false
}

// HasAnswer reports whether answerID is one of the options.
func (q GameQuestion) HasAnswer(answerID int64) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return true
		}
	}
	return false
}
