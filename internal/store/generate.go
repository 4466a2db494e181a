package store

import (
	"math/rand"
	"strings"

	"fragpuzzle/pkg/contract"
)

// Tokenize 按空白切词（连续空白视为一个分隔）。
func Tokenize(text string) []string { return strings.Fields(text) }

// Generate 将文本切词并为每个词分配 [0, N) 内互不相同的随机 ID。
// Index 为词在原文中的 0 基位置；返回值以十进制 ID 为键。
func Generate(text string, rnd *rand.Rand) map[string]contract.Fragment {
	words := Tokenize(text)
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	perm := rnd.Perm(len(words))
	out := make(map[string]contract.Fragment, len(words))
	for i, w := range words {
		f := contract.Fragment{ID: int64(perm[i]), Index: int64(i), Text: w}
		out[f.Key()] = f
	}
	return out
}
