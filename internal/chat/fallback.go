package chat

import (
	"fmt"
	"strings"

	"github.com/kalambet/cory/internal/creature"
)

type keywordReplies struct {
	keywords []string
	replies  []string
}

func localReplies(name string) []keywordReplies {
	return []keywordReplies{
		{[]string{"hello", "hi ", "hey"}, []string{"Hello! How are you feeling today?", "Hi! It's a lovely day!"}},
		{[]string{"food", "hungry", "snack"}, []string{"I love peaches!", "I'd like some tasty fruit."}},
		{[]string{"play", "game"}, []string{"Playing together sounds fun!", "What kind of games do you like?"}},
		{[]string{"weather", "sunny", "rain"}, []string{"The weather is so nice today!", "The sunshine is warm and makes me happy."}},
		{[]string{"mood", "feel"}, []string{"I'm always happy!", "Talking with you puts me in a good mood!"}},
		{[]string{"name"}, []string{fmt.Sprintf("My name is %s!", name), "Please remember me!"}},
		{[]string{"thank"}, []string{"You're welcome!", "Talk to me anytime!"}},
		{[]string{"love"}, []string{"I like you too!", "Thank you for your warm heart!"}},
	}
}

var defaultReplies = []string{
	"What an interesting story!",
	"Tell me more.",
	"I see! That's fun.",
	"I think so too.",
	"Have a happy day!",
	"I enjoy talking with you.",
	"Tell me another story!",
}

// Fallback picks a local reply for text, matching keywords first. pick
// returns an index in [0, n).
func Fallback(c creature.Record, text string, pick func(n int) int) string {
	lower := strings.ToLower(text) + " "
	for _, kr := range localReplies(c.Name) {
		for _, kw := range kr.keywords {
			if strings.Contains(lower, kw) {
				return kr.replies[pick(len(kr.replies))]
			}
		}
	}
	return defaultReplies[pick(len(defaultReplies))]
}
