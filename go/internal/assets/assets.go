// Package assets embeds the sample question bank served when no bank file
// or database is configured.
package assets

import _ "embed"

//go:embed questions.yaml
var QuestionBank []byte
