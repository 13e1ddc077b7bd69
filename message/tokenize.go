package message

import "strings"

// TokenizePlain scans a text run for links and @-mentions, keeping runs of
// ordinary words (with their whitespace) as single text tokens. Platform
// normalizers call this on the segments between platform-specific emote
// markup.
func TokenizePlain(segment string) []ContentToken {
	var toks []ContentToken
	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			toks = append(toks, Text(plain.String()))
			plain.Reset()
		}
	}

	rest := segment
	for rest != "" {
		word, tail, sep := nextWord(rest)
		switch {
		case strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://"):
			flush()
			toks = append(toks, Link(word, ""))
		case len(word) > 1 && word[0] == '@':
			flush()
			name := strings.TrimRight(word[1:], ",.!?:;")
			if name == "" {
				plain.WriteString(word)
				break
			}
			toks = append(toks, Mention("", name))
			if suffix := word[1+len(name):]; suffix != "" {
				plain.WriteString(suffix)
			}
		default:
			plain.WriteString(word)
		}
		plain.WriteString(sep)
		rest = tail
	}
	flush()
	return toks
}

// nextWord splits off the leading word and the whitespace that follows it.
func nextWord(s string) (word, rest, sep string) {
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, "", ""
	}
	word = s[:i]
	j := i
	for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
		j++
	}
	return word, s[j:], s[i:j]
}
