package main

import (
	"bytes"
	"fmt"

	"github.com/mcdev12/triviaroom/go/internal/assets"
	"github.com/mcdev12/triviaroom/go/internal/config"
	"github.com/mcdev12/triviaroom/go/internal/questions"
)

// loadQuestionBank reads the configured bank file, or the embedded sample.
func loadQuestionBank(cfg *config.Config) (*questions.Bank, error) {
	if cfg.QuestionsFile != "" {
		return questions.LoadBankFile(cfg.QuestionsFile)
	}
	bank, err := questions.ParseBank(bytes.NewReader(assets.QuestionBank))
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded question bank: %w", err)
	}
	return bank, nil
}
