package events

import nanoid "github.com/matoous/go-nanoid/v2"

// idAlphabet skips characters that are easy to misread (0, O, I, l).
const idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// idLength is the total length of a generated id, prefix included.
const idLength = 21

// GenerateID returns a fresh client-side id such as "evt_5VBvXmNng2kHTSYLCu3".
func GenerateID(prefix string) string {
	suffix, err := nanoid.Generate(idAlphabet, idLength-len(prefix))
	if err != nil {
		panic(err)
	}
	return prefix + suffix
}
