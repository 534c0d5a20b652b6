package proptest

// Charsets for string generation
const (
	CharsetAlpha      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetAlphaLower = "abcdefghijklmnopqrstuvwxyz"
	CharsetDigits     = "0123456789"
	CharsetAlphaNum   = CharsetAlpha + CharsetDigits
	CharsetPrintable  = CharsetAlphaNum + " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	CharsetIdentStart = CharsetAlpha + "_"
	CharsetIdentBody  = CharsetAlphaNum + "_"
)

// IntRange returns a random int in [min, max].
// Panics if min > max.
func (g *Generator) IntRange(min, max int) int {
	if min > max {
		panic("proptest: IntRange min > max")
	}
	if min == max {
		return min
	}
	return min + g.rng.Intn(max-min+1)
}

// Int64Range returns a random int64 in [min, max].
// Panics if min > max.
func (g *Generator) Int64Range(min, max int64) int64 {
	if min > max {
		panic("proptest: Int64Range min > max")
	}
	if min == max {
		return min
	}
	return min + g.rng.Int63n(max-min+1)
}

// Float64Range returns a random float64 in [min, max).
func (g *Generator) Float64Range(min, max float64) float64 {
	return min + g.rng.Float64()*(max-min)
}

// String returns a random printable ASCII string of length [0, maxLen].
func (g *Generator) String(maxLen int) string {
	return g.StringFrom(CharsetPrintable, maxLen)
}

// StringFrom returns a random string using characters from the given
// charset, with length [0, maxLen].
func (g *Generator) StringFrom(charset string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	return g.stringOfLen(charset, g.Intn(maxLen+1))
}

// StringFromN returns a random string using characters from the given
// charset, with length [minLen, maxLen].
func (g *Generator) StringFromN(charset string, minLen, maxLen int) string {
	if minLen > maxLen {
		panic("proptest: StringFromN minLen > maxLen")
	}
	return g.stringOfLen(charset, g.IntRange(minLen, maxLen))
}

// stringOfLen returns a string of exactly the given length from charset.
func (g *Generator) stringOfLen(charset string, length int) string {
	if length == 0 {
		return ""
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[g.Intn(len(charset))]
	}
	return string(b)
}

// Identifier returns a valid identifier (starts with letter or
// underscore, followed by alphanumeric or underscore) of length
// [1, maxLen].
func (g *Generator) Identifier(maxLen int) string {
	if maxLen <= 0 {
		maxLen = 1
	}
	length := g.IntRange(1, maxLen)
	b := make([]byte, length)
	b[0] = CharsetIdentStart[g.Intn(len(CharsetIdentStart))]
	for i := 1; i < length; i++ {
		b[i] = CharsetIdentBody[g.Intn(len(CharsetIdentBody))]
	}
	return string(b)
}

// EdgeCaseString returns a string that is likely to trigger SQL quoting
// or escaping edge cases.
func (g *Generator) EdgeCaseString() string {
	edgeCases := []string{
		"",                    // empty
		" ",                   // single space
		"\t",                  // tab
		"line1\nline2",        // multiline
		"'",                   // single quote
		"''",                  // doubled single quote
		`"`,                   // double quote
		`\`,                   // backslash
		"it's",                // apostrophe
		`say "hello"`,         // embedded quotes
		"%",                   // LIKE wildcard
		"_",                   // LIKE wildcard
		"50%_off",             // wildcards mid-string
		"NULL",                // SQL keyword
		"0",                   // numeric string
		"-1",                  // negative numeric
		"日本語",                 // multibyte
		"🎉",                   // emoji
		"--",                  // SQL comment
		"/**/",                // SQL block comment
		"; DROP TABLE users;", // injection shape
		"SELECT * FROM",       // SQL keywords
	}
	// 70% chance of edge case, 30% chance of random
	if g.Float64() < 0.7 {
		return edgeCases[g.Intn(len(edgeCases))]
	}
	return g.String(50)
}
