package proptest

// OneOf returns a random element from the provided values.
// Panics if values is empty.
func OneOf[T any](g *Generator, values ...T) T {
	if len(values) == 0 {
		panic("proptest: OneOf called with no values")
	}
	return values[g.Intn(len(values))]
}

// OneOfFunc calls a random generator function from the provided functions.
// Panics if fns is empty.
func OneOfFunc[T any](g *Generator, fns ...func(*Generator) T) T {
	if len(fns) == 0 {
		panic("proptest: OneOfFunc called with no functions")
	}
	return fns[g.Intn(len(fns))](g)
}

// Pick returns a random element from a non-empty slice.
// Panics if slice is empty.
func Pick[T any](g *Generator, slice []T) T {
	if len(slice) == 0 {
		panic("proptest: Pick called with empty slice")
	}
	return slice[g.Intn(len(slice))]
}

// Slice generates a slice of random length [0, maxLen] using gen for
// each element.
func Slice[T any](g *Generator, maxLen int, gen func(*Generator) T) []T {
	return SliceN(g, 0, maxLen, gen)
}

// SliceN generates a slice of random length [minLen, maxLen] using gen
// for each element.
func SliceN[T any](g *Generator, minLen, maxLen int, gen func(*Generator) T) []T {
	length := g.IntRange(minLen, maxLen)
	out := make([]T, length)
	for i := range out {
		out[i] = gen(g)
	}
	return out
}
