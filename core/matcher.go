package core

import "strings"

// TopicMatcher determines whether a binding pattern matches a routing key.
type TopicMatcher interface {
	Match(pattern string, routingKey string) bool
}

// DefaultMatcher implements AMQP topic-exchange semantics on dot-separated
// words: "*" matches exactly one word, "#" matches zero or more words.
//
// Examples:
//
//	"test.topic" matches "test.topic"          (exact)
//	"test.*"     matches "test.topic"          (single word)
//	"test.*"     does NOT match "test.a.topic"
//	"test.#"     matches "test.a.topic"        (multi word)
//	"test.#"     matches "test"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pat, key []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			// collapse runs of '#'
			for len(pat) > 1 && pat[1] == "#" {
				pat = pat[1:]
			}
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pat[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pat[0] != key[0] {
				return false
			}
		}
		pat, key = pat[1:], key[1:]
	}
	return len(key) == 0
}

// MatchAny reports whether any of patterns matches routingKey.
func MatchAny(m TopicMatcher, patterns []string, routingKey string) bool {
	for _, p := range patterns {
		if m.Match(p, routingKey) {
			return true
		}
	}
	return false
}
