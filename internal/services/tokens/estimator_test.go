package tokens

import (
	"testing"

	"github.com/private-symposium-go/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "english words", text: "Hello, brave new world!", want: 4},
		{name: "chinese", text: "你好世界", want: 4},
		{name: "mixed", text: "我爱Go语言 and Rust", want: 7},
		{name: "digits and punctuation are free", text: "123 ... !!! 456", want: 0},
		{name: "letters split by digits", text: "abc1def", want: 2},
		{name: "accented letters break runs", text: "café", want: 1},
		{name: "emoji", text: "🕯️📜", want: 0},
		{name: "fullwidth punctuation", text: "你好，世界。", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func TestEstimateDeterministic(t *testing.T) {
	text := "Socrates 说：认识你自己 know thyself"
	first := Estimate(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Estimate(text))
	}
}

func TestEstimateMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "你是哲学家"},
		{Role: models.RoleUser, Content: "what is virtue"},
	}
	assert.Equal(t, 5+3, EstimateMessages(msgs))
	assert.Equal(t, 0, EstimateMessages(nil))
}
