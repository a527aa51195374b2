package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateServerID() string {
	return g.generate("srv")
}

func (g *Generator) GenerateCallID() string {
	return g.generate("call")
}

func (g *Generator) GenerateTurnID() string {
	return g.generate("turn")
}
