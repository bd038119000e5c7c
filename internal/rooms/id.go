package rooms

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultIDLength = 6
	// Upper case only so ids read the same however a user types them.
	DefaultIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// IDGenerator produces candidate room ids. Uniqueness is the Manager's job.
type IDGenerator interface {
	Generate() (string, error)
}

type NanoIDGenerator struct {
	size     int
	alphabet string
}

// NewNanoIDGenerator creates a generator. size must be between 1 and 64 and
// alphabet must have at least 2 characters.
func NewNanoIDGenerator(size int, alphabet string) (*NanoIDGenerator, error) {
	if size < 1 || size > 64 {
		return nil, fmt.Errorf("room id size must be between 1 and 64, got %d", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("room id alphabet must have at least 2 characters, got %d", len(alphabet))
	}
	return &NanoIDGenerator{size: size, alphabet: alphabet}, nil
}

func (g *NanoIDGenerator) Generate() (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}
	return id, nil
}

func defaultGenerator() IDGenerator {
	g, err := NewNanoIDGenerator(DefaultIDLength, DefaultIDAlphabet)
	if err != nil {
		panic(err)
	}
	return g
}
